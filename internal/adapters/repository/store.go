package repository

import "github.com/okian/safescore/internal/domain/model"

// TokenEntry is a cached token metadata record.
type TokenEntry = model.TokenMetadata

// TokenStore is the cache contract used by the metadata resolver.
type TokenStore interface {
	// Get returns the entry for a lowercase contract address.
	Get(address string) (TokenEntry, bool)
	// Put stores an entry unless one already exists; entries are immutable
	// once cached. Returns true when the entry was added.
	Put(entry TokenEntry) bool
	// Len returns the number of cached entries.
	Len() int
}
