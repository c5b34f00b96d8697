// Package rpc implements the node fetch collaborators: typed status, ABCI,
// commit and block queries through the CometBFT RPC client, and a loose
// JSON decode of the consensus-state dump whose payload shape varies
// across node versions.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"consensus-sentinel/internal/consensus"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
)

// StatusResult is the /status view: the health sample plus node identity
// telemetry carried on the full snapshot.
type StatusResult struct {
	Sample      consensus.StatusSample
	ChainID     string
	Moniker     string
	NodeVersion string
}

// ABCIInfo is the application-side view of the last executed block.
type ABCIInfo struct {
	LastBlockHeight  int64
	LastBlockAppHash string
	AppVersion       uint64
}

// CommitInfo is the consensus-side commit header at one height.
type CommitInfo struct {
	Height          int64
	AppHash         string
	LastResultsHash string
}

// NetInfo is the peer-count telemetry from /net_info.
type NetInfo struct {
	Peers int
}

// MempoolInfo is the unconfirmed-transaction telemetry.
type MempoolInfo struct {
	Count int
	Bytes int64
}

// Client queries a single CometBFT node.
type Client struct {
	baseURL string
	rpc     *rpchttp.HTTP
	http    *http.Client
}

// NewClient creates a client for the node at baseURL. wsPath is the
// websocket endpoint path the CometBFT client requires even for plain
// HTTP calls.
func NewClient(baseURL, wsPath string, timeout time.Duration) (*Client, error) {
	c, err := rpchttp.NewWithTimeout(baseURL, wsPath, uint(timeout/time.Second))
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		rpc:     c,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the node's RPC base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Status fetches the node status. This is the primary fetch: its failure
// marks the whole snapshot offline.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	res, err := c.rpc.Status(ctx)
	if err != nil {
		return StatusResult{}, fmt.Errorf("status: %w", err)
	}
	height := res.SyncInfo.LatestBlockHeight
	return StatusResult{
		Sample: consensus.StatusSample{
			OK:         true,
			Height:     &height,
			BlockTime:  res.SyncInfo.LatestBlockTime,
			CatchingUp: res.SyncInfo.CatchingUp,
		},
		ChainID:     res.NodeInfo.Network,
		Moniker:     res.NodeInfo.Moniker,
		NodeVersion: res.NodeInfo.Version,
	}, nil
}

// ABCIInfo fetches the application's last block height and app hash.
func (c *Client) ABCIInfo(ctx context.Context) (ABCIInfo, error) {
	res, err := c.rpc.ABCIInfo(ctx)
	if err != nil {
		return ABCIInfo{}, fmt.Errorf("abci_info: %w", err)
	}
	return ABCIInfo{
		LastBlockHeight:  res.Response.LastBlockHeight,
		LastBlockAppHash: fmt.Sprintf("%X", res.Response.LastBlockAppHash),
		AppVersion:       res.Response.AppVersion,
	}, nil
}

// Commit fetches the commit header at the given height; height 0 means the
// latest commit.
func (c *Client) Commit(ctx context.Context, height int64) (CommitInfo, error) {
	var h *int64
	if height > 0 {
		h = &height
	}
	res, err := c.rpc.Commit(ctx, h)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit: %w", err)
	}
	return CommitInfo{
		Height:          res.Header.Height,
		AppHash:         fmt.Sprintf("%X", res.Header.AppHash),
		LastResultsHash: fmt.Sprintf("%X", res.Header.LastResultsHash),
	}, nil
}

// NetInfo fetches the peer count. Optional telemetry: failures are soft.
func (c *Client) NetInfo(ctx context.Context) (NetInfo, error) {
	res, err := c.rpc.NetInfo(ctx)
	if err != nil {
		return NetInfo{}, fmt.Errorf("net_info: %w", err)
	}
	return NetInfo{Peers: res.NPeers}, nil
}

// UnconfirmedTxs fetches mempool telemetry. Optional: failures are soft.
func (c *Client) UnconfirmedTxs(ctx context.Context) (MempoolInfo, error) {
	res, err := c.rpc.NumUnconfirmedTxs(ctx)
	if err != nil {
		return MempoolInfo{}, fmt.Errorf("num_unconfirmed_txs: %w", err)
	}
	return MempoolInfo{Count: res.Count, Bytes: res.TotalBytes}, nil
}
