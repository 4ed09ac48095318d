package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEndpointBucket_StableAndInRange(t *testing.T) {
	bm := NewBucketingManager(64)

	first := bm.GetEndpointBucket("HR-LAPTOP-14")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, bm.GetEndpointBucket("HR-LAPTOP-14"))
	}

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		b := bm.GetEndpointBucket(fmt.Sprintf("endpoint-%d", i))
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 64)
		seen[b] = true
	}
	// murmur3 spreads 1000 keys over most of 64 buckets
	assert.Greater(t, len(seen), 50)
}

func TestNewBucketingManager_ClampsBucketCount(t *testing.T) {
	bm := NewBucketingManager(0)
	assert.Equal(t, 1, bm.EndpointBuckets())
	assert.Equal(t, 0, bm.GetEndpointBucket("anything"))
}

func TestGetBucketAssignment(t *testing.T) {
	bm := NewBucketingManager(8)
	at := time.Date(2026, 10, 15, 23, 30, 0, 0, time.FixedZone("x", -3*3600))

	a := bm.GetBucketAssignment("ep-1", at)
	assert.Equal(t, "2026-10-16", a.DateBucket)
	assert.Equal(t, bm.GetEndpointBucket("ep-1"), a.EndpointBucket)
}
