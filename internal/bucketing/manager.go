package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// BucketingManager maps endpoints onto a fixed number of buckets so archive
// rows for one endpoint stay together.
type BucketingManager struct {
	endpointBuckets int
	hasherPool      sync.Pool
}

type BucketAssignment struct {
	EndpointBucket int    `json:"endpoint_bucket"`
	DateBucket     string `json:"date_bucket"`
}

func NewBucketingManager(endpointBuckets int) *BucketingManager {
	if endpointBuckets <= 0 {
		endpointBuckets = 1
	}
	bm := &BucketingManager{endpointBuckets: endpointBuckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEndpointBucket returns a consistent bucket in [0, endpointBuckets).
func (bm *BucketingManager) GetEndpointBucket(endpointID string) int {
	return int(bm.getHash(endpointID) % uint64(bm.endpointBuckets))
}

// GetDateBucket returns the UTC day of t.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetBucketAssignment(endpointID string, occurredAt time.Time) BucketAssignment {
	return BucketAssignment{
		EndpointBucket: bm.GetEndpointBucket(endpointID),
		DateBucket:     bm.GetDateBucket(occurredAt),
	}
}

func (bm *BucketingManager) EndpointBuckets() int {
	return bm.endpointBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	// Reset hasher for reuse
	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
