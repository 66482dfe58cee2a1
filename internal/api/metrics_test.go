package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerMetrics_Uptime(t *testing.T) {
	sm := &ServerMetrics{StartTime: time.Now().Add(-(2*time.Hour + 5*time.Minute + 10*time.Second))}
	assert.Equal(t, "2ч 5м 10с", sm.GetUptime())

	fresh := NewServerMetrics()
	assert.Regexp(t, `^\d+с$`, fresh.GetUptime())
}

func TestServerMetrics_DetailedMemoryStats(t *testing.T) {
	sm := NewServerMetrics()
	stats := sm.GetDetailedMemoryStats()

	assert.Contains(t, stats, "heap_alloc_mb")
	assert.Contains(t, stats, "num_gc")
	assert.Greater(t, stats["goroutines"], 0)
}
