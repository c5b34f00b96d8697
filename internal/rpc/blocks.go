package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
)

// BlockSource fetches block transaction lists from arbitrary nodes, keyed
// by base URL. It backs the divergence diff, which compares the monitored
// node's block against a reference node's block at the same height.
type BlockSource struct {
	wsPath  string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*rpchttp.HTTP
}

// NewBlockSource creates a block source. wsPath and timeout apply to every
// per-node client it lazily constructs.
func NewBlockSource(wsPath string, timeout time.Duration) *BlockSource {
	return &BlockSource{
		wsPath:  wsPath,
		timeout: timeout,
		clients: make(map[string]*rpchttp.HTTP),
	}
}

// BlockTxs returns the ordered transaction hashes and the header app hash
// of the block at the given height on the node behind baseURL.
func (s *BlockSource) BlockTxs(ctx context.Context, baseURL string, height int64) ([]string, string, error) {
	client, err := s.clientFor(baseURL)
	if err != nil {
		return nil, "", err
	}

	res, err := client.Block(ctx, &height)
	if err != nil {
		return nil, "", fmt.Errorf("block %d from %s: %w", height, baseURL, err)
	}
	if res.Block == nil {
		return nil, "", fmt.Errorf("block %d from %s: empty result", height, baseURL)
	}

	txs := make([]string, 0, len(res.Block.Data.Txs))
	for _, tx := range res.Block.Data.Txs {
		txs = append(txs, fmt.Sprintf("%X", tx.Hash()))
	}
	return txs, fmt.Sprintf("%X", res.Block.Header.AppHash), nil
}

func (s *BlockSource) clientFor(baseURL string) (*rpchttp.HTTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[baseURL]; ok {
		return c, nil
	}
	c, err := rpchttp.NewWithTimeout(baseURL, s.wsPath, uint(s.timeout/time.Second))
	if err != nil {
		return nil, fmt.Errorf("create block client for %s: %w", baseURL, err)
	}
	s.clients[baseURL] = c
	return c, nil
}
