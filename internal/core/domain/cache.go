package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// EntryKind distinguishes small structured cache entries from large payloads.
type EntryKind uint8

const (
	// EntryMetadata is a small entry that is kept hot in memory and stored uncompressed.
	EntryMetadata EntryKind = iota
	// EntryBlob is a large entry that is stored compressed.
	EntryBlob
)

// BlobThreshold is the payload size from which an entry is treated as a blob.
const BlobThreshold = 4 << 10

// KindForSize returns the entry kind for a payload of n bytes.
func KindForSize(n int) EntryKind {
	if n >= BlobThreshold {
		return EntryBlob
	}
	return EntryMetadata
}

// String returns the name of the kind.
func (k EntryKind) String() string {
	if k == EntryBlob {
		return "blob"
	}
	return "metadata"
}

// CacheEntry describes a stored cache payload.
type CacheEntry struct {
	Key  string
	Kind EntryKind
	// Size is the uncompressed payload size.
	Size int
	// Location is the backend that served the entry.
	Location string
}

// ContentKey returns the content-derived cache key for data.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ActionKey returns the cache key of an action's encoded description. It lives in its own
// keyspace, apart from ContentKey, but stays a plain digest so location-addressed backends shard
// it like any other key.
func ActionKey(encoded []byte) string {
	h := sha256.New()
	h.Write([]byte("action\x00"))
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}

// ShardKey splits a key into the two-character shard prefix and the remainder
// used by location-addressed backends. Keys shorter than three characters are
// placed in the "_" shard.
func ShardKey(key string) (shard, rest string) {
	if len(key) < 3 {
		return "_", key
	}
	return key[:2], key[2:]
}
