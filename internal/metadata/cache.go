// Package metadata implements the process-wide Metadata Cache (C10) of
// spec.md §4.9: asset-id -> {symbol, decimals}, with negative-result
// memoisation and a lazy fallback derived from the asset id itself.
package metadata

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Info is the resolved display metadata for an asset.
type Info struct {
	Symbol   string
	Decimals int
}

// known seeds a small fixed table of canonical assets with authoritative
// decimals, spec.md §4.9 resolution order step (1).
var known = map[string]Info{
	"near": {Symbol: "NEAR", Decimals: 24},
}

// FallbackDecimalsNative is the arbitrary default for unknown
// native-scale assets; spec.md §9 Open Questions flags this as a
// display-layer concern only — it never affects on-disk base-unit
// values, which are always exact integers (internal/bignum).
const FallbackDecimalsNative = 24

// FallbackDecimalsStablecoin is used when the contract id's first
// dot-segment looks like a stablecoin ticker.
const FallbackDecimalsStablecoin = 6

var stablecoinHeuristics = map[string]bool{
	"usdc": true, "usdt": true, "dai": true, "usn": true,
}

// MetadataView is the subset of chain.RPC this package needs: a
// token-contract metadata view call. Kept as its own narrow interface
// (rather than depending on the whole chain.RPC) so metadata stays
// testable without a full chain fake, grounded on the pack's habit of
// depending on small single-method interfaces rather than god-objects.
type MetadataView interface {
	ViewFTMetadata(contract string) (symbol string, decimals int, err error)
}

// Cache is the process-wide C10 cache. Safe for concurrent use.
type Cache struct {
	logger *zap.Logger
	view   MetadataView

	mu      sync.Mutex
	entries *lru.Cache // string -> Info
}

// New constructs a Cache bounded to size entries (LRU eviction keeps
// memory bounded the way spec.md §5 asks the snapshot cache to be
// explicitly flushable).
func New(logger *zap.Logger, view MetadataView, size int) *Cache {
	if size <= 0 {
		size = 4096
	}
	l, _ := lru.New(size)
	return &Cache{logger: logger, view: view, entries: l}
}

// Resolve returns display metadata for assetID, following spec.md
// §4.9's resolution order: known table, cache, view call, synthesised
// fallback (cached to prevent repeated failed lookups).
//
// MT ids are unwrapped first: nep141:X resolves as X; nep245:X:Y
// resolves as X, per spec.md §4.9 and §9.
func (c *Cache) Resolve(assetID string) Info {
	lookupKey := unwrapMultiToken(assetID)

	if info, ok := known[lookupKey]; ok {
		return info
	}

	c.mu.Lock()
	if v, ok := c.entries.Get(lookupKey); ok {
		c.mu.Unlock()
		return v.(Info)
	}
	c.mu.Unlock()

	if c.view != nil {
		if symbol, decimals, err := c.view.ViewFTMetadata(lookupKey); err == nil {
			info := Info{Symbol: symbol, Decimals: decimals}
			c.store(lookupKey, info)
			return info
		} else if c.logger != nil {
			c.logger.Debug("metadata view call failed, falling back",
				zap.String("asset", lookupKey), zap.Error(err))
		}
	}

	info := fallback(lookupKey)
	c.store(lookupKey, info)
	return info
}

// Reset clears the cache; used between property-test cases per spec.md §9.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

func (c *Cache) store(key string, info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, info)
}

func unwrapMultiToken(assetID string) string {
	if strings.HasPrefix(assetID, "nep141:") {
		return strings.TrimPrefix(assetID, "nep141:")
	}
	if strings.HasPrefix(assetID, "nep245:") {
		parts := strings.SplitN(assetID, ":", 3)
		if len(parts) >= 2 {
			return parts[1]
		}
	}
	return assetID
}

func fallback(contractID string) Info {
	segment := contractID
	if i := strings.IndexByte(contractID, '.'); i >= 0 {
		segment = contractID[:i]
	}
	decimals := FallbackDecimalsNative
	if stablecoinHeuristics[strings.ToLower(segment)] {
		decimals = FallbackDecimalsStablecoin
	}
	return Info{Symbol: strings.ToUpper(segment), Decimals: decimals}
}
