// Package moniker maps consensus hex addresses to validator monikers by
// joining the RPC /validators set against the Cosmos staking REST API on
// the consensus public key.
package moniker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"consensus-sentinel/internal/logger"
)

const defaultTTL = 30 * time.Minute // validators change rarely

// Resolver caches the address-to-moniker mapping and refreshes it lazily
// once the TTL expires.
type Resolver struct {
	rpcURL string
	appURL string
	log    *logger.Logger
	client *http.Client
	ttl    time.Duration

	mu        sync.RWMutex
	cache     map[string]string // hex cons addr -> moniker
	lastFetch time.Time
}

// NewResolver returns nil when either URL is missing; a nil resolver
// resolves everything to the empty string.
func NewResolver(rpcURL, appURL string, log *logger.Logger) *Resolver {
	return NewResolverWithClient(rpcURL, appURL, log, &http.Client{Timeout: 10 * time.Second}, defaultTTL)
}

// NewResolverWithClient allows tests to supply the HTTP client and TTL.
func NewResolverWithClient(rpcURL, appURL string, log *logger.Logger, client *http.Client, ttl time.Duration) *Resolver {
	if rpcURL == "" || appURL == "" {
		return nil
	}
	if log == nil {
		log = logger.New(false)
	}
	return &Resolver{
		rpcURL: strings.TrimSuffix(rpcURL, "/"),
		appURL: strings.TrimSuffix(appURL, "/"),
		log:    log,
		client: client,
		ttl:    ttl,
		cache:  map[string]string{},
	}
}

// Resolve returns the moniker for a consensus hex address, or "" when
// unknown. The first miss after the TTL expires triggers a refresh.
func (r *Resolver) Resolve(consAddrHex string) string {
	if r == nil || consAddrHex == "" {
		return ""
	}
	key := normalizeAddr(consAddrHex)

	r.mu.RLock()
	if m, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return m
	}
	stale := time.Since(r.lastFetch) > r.ttl
	empty := len(r.cache) == 0
	r.mu.RUnlock()

	if stale || empty {
		r.refresh()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key]
}

func (r *Resolver) refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check under lock
	if time.Since(r.lastFetch) <= r.ttl && len(r.cache) > 0 {
		return
	}

	rpcVals, err := r.fetchRPCValidators()
	if err != nil {
		r.log.Printf("moniker resolver: failed to fetch RPC validators: %v", err)
		return
	}

	monikersByPubKey, err := r.fetchRESTMonikers()
	if err != nil {
		r.log.Printf("moniker resolver: failed to fetch REST validators: %v", err)
		return
	}

	mapping := make(map[string]string, len(rpcVals))
	matched := 0
	for _, val := range rpcVals {
		if val.Address == "" || val.PubKey.Value == "" {
			continue
		}
		addr := normalizeAddr(val.Address)
		moniker := lookupByPubKey(monikersByPubKey, val.PubKey.Value)
		if moniker != "" {
			matched++
		}
		// Keep the address even without a moniker so misses don't refetch.
		mapping[addr] = moniker
	}

	r.cache = mapping
	r.lastFetch = time.Now()
	r.log.Printf("moniker resolver: matched %d/%d validators, cached %d entries", matched, len(rpcVals), len(mapping))
}

type rpcValidator struct {
	Address string `json:"address"`
	PubKey  struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pub_key"`
}

type rpcValidatorsResp struct {
	Result struct {
		Validators []rpcValidator `json:"validators"`
	} `json:"result"`
}

type restValidatorsResp struct {
	Validators []struct {
		Description struct {
			Moniker string `json:"moniker"`
		} `json:"description"`
		OperatorAddress string `json:"operator_address"`
		ConsensusPubkey struct {
			Type string `json:"@type"`
			Key  string `json:"key"`
		} `json:"consensus_pubkey"`
	} `json:"validators"`
}

func (r *Resolver) fetchRPCValidators() ([]rpcValidator, error) {
	url := fmt.Sprintf("%s/validators?per_page=100", r.rpcURL)
	resp, err := r.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload rpcValidatorsResp
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Result.Validators, nil
}

// fetchRESTMonikers queries the staking API across all bond statuses so
// inactive validators still resolve, and keys the result by consensus
// public key.
func (r *Resolver) fetchRESTMonikers() (map[string]string, error) {
	urls := []string{
		fmt.Sprintf("%s/cosmos/staking/v1beta1/validators?pagination.limit=100&status=BOND_STATUS_BONDED", r.appURL),
		fmt.Sprintf("%s/cosmos/staking/v1beta1/validators?pagination.limit=100&status=BOND_STATUS_UNBONDING", r.appURL),
		fmt.Sprintf("%s/cosmos/staking/v1beta1/validators?pagination.limit=100&status=BOND_STATUS_UNBONDED", r.appURL),
		fmt.Sprintf("%s/cosmos/staking/v1beta1/validators?pagination.limit=100", r.appURL),
	}

	monikers := make(map[string]string)
	var lastErr error
	fetched := false
	for _, url := range urls {
		resp, err := r.client.Get(url)
		if err != nil {
			lastErr = err
			continue
		}

		var payload restValidatorsResp
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		fetched = true

		for _, v := range payload.Validators {
			if v.ConsensusPubkey.Key != "" {
				monikers[v.ConsensusPubkey.Key] = v.Description.Moniker
			}
		}
	}

	if !fetched {
		return nil, lastErr
	}
	return monikers, nil
}

// lookupByPubKey matches base64 keys directly, then by decoded bytes to
// tolerate padding differences.
func lookupByPubKey(monikers map[string]string, rpcPubKey string) string {
	if m, ok := monikers[rpcPubKey]; ok {
		return m
	}
	rpcBytes, err := base64.StdEncoding.DecodeString(rpcPubKey)
	if err != nil {
		return ""
	}
	for key, m := range monikers {
		keyBytes, err := base64.StdEncoding.DecodeString(key)
		if err == nil && string(keyBytes) == string(rpcBytes) {
			return m
		}
	}
	return ""
}

func normalizeAddr(addr string) string {
	return strings.TrimPrefix(strings.ToUpper(addr), "0X")
}
