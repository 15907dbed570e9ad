package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcProbe(t *testing.T) {
	probe, err := NewProcProbe()
	if err != nil {
		t.Skipf("procfs not available: %v", err)
	}

	usage, err := probe.Usage()
	if err != nil {
		t.Skipf("meminfo not readable: %v", err)
	}
	assert.GreaterOrEqual(t, usage, 0.0)
	assert.LessOrEqual(t, usage, 1.0)

	rss, err := probe.ResidentBytes()
	if err == nil {
		assert.Greater(t, rss, uint64(0))
	}
}

func TestStaticProbe(t *testing.T) {
	usage, err := StaticProbe(0.42).Usage()
	assert.NoError(t, err)
	assert.Equal(t, 0.42, usage)
}
