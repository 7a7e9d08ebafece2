package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNonceCacheDetectsReplay(t *testing.T) {
	nc := NewNonceCache(time.Minute)
	defer nc.Close()

	assert.False(t, nc.Seen("node-a", 1000))
	assert.True(t, nc.Seen("node-a", 1000))
}

func TestNonceCacheDistinguishesTimestampsAndSources(t *testing.T) {
	nc := NewNonceCache(time.Minute)
	defer nc.Close()

	assert.False(t, nc.Seen("node-a", 1000))
	assert.False(t, nc.Seen("node-a", 1001))
	assert.False(t, nc.Seen("node-b", 1000))
}

func TestNonceCacheDeleteSourceForgetsHistory(t *testing.T) {
	nc := NewNonceCache(time.Minute)
	defer nc.Close()

	assert.False(t, nc.Seen("node-a", 1000))
	nc.DeleteSource("node-a")
	assert.False(t, nc.Seen("node-a", 1000))
}

func TestNonceCacheEmptySourceNeverRecorded(t *testing.T) {
	nc := NewNonceCache(time.Minute)
	defer nc.Close()

	assert.False(t, nc.Seen("", 1000))
	assert.False(t, nc.Seen("", 1000))
}
