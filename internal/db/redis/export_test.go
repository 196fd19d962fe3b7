package redis

import "github.com/redis/rueidis"

// NewStoreForTest wraps a mocked client.
func NewStoreForTest(c rueidis.Client) *Store {
	return &Store{client: c}
}

// NewScanStoreForTest wraps a mocked client with SCAN-based listing.
func NewScanStoreForTest(c rueidis.Client) *Store {
	return &Store{client: c, scanListing: true}
}
