package buffer

import (
	"fmt"
	"testing"
	"time"

	"flow-threat-detector/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, cfg Config) *AdaptiveBuffer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	b, err := New(cfg, logger)
	require.NoError(t, err)
	return b
}

func numberedFlow(i int) model.FlowRecord {
	return model.FlowRecord{
		SrcIP:    fmt.Sprintf("10.0.0.%d", i),
		Features: map[string]float64{"dst_port": float64(i)},
	}
}

func srcIPs(flows []model.FlowRecord) []string {
	ips := make([]string, len(flows))
	for i, f := range flows {
		ips[i] = f.SrcIP
	}
	return ips
}

func TestNew_Validation(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		b := newTestBuffer(t, Config{})
		cfg := b.Config()
		assert.Equal(t, DefaultSoftTrigger, cfg.SoftTrigger)
		assert.Equal(t, DefaultMaxWait, cfg.MaxWait)
		assert.Equal(t, DefaultCapacity, cfg.Capacity)
		assert.Equal(t, EvictOldest, cfg.EvictionPolicy)
	})

	t.Run("rejects unknown eviction policy", func(t *testing.T) {
		_, err := New(Config{EvictionPolicy: "drop_random"}, nil)
		assert.Error(t, err)
	})

	t.Run("rejects soft trigger above capacity", func(t *testing.T) {
		_, err := New(Config{SoftTrigger: 100, Capacity: 50}, nil)
		assert.Error(t, err)
	})
}

func TestSubmit_SoftTrigger(t *testing.T) {
	b := newTestBuffer(t, Config{SoftTrigger: 3, Capacity: 10, MaxWait: time.Hour})

	size, due := b.Submit(numberedFlow(1))
	assert.Equal(t, 1, size)
	assert.False(t, due)

	size, due = b.Submit(numberedFlow(2))
	assert.Equal(t, 2, size)
	assert.False(t, due)

	size, due = b.Submit(numberedFlow(3))
	assert.Equal(t, 3, size)
	assert.True(t, due, "flush becomes due exactly at the trigger depth")
}

func TestSubmit_EvictsOldestAtCapacity(t *testing.T) {
	b := newTestBuffer(t, Config{SoftTrigger: 2, Capacity: 3, MaxWait: time.Hour})

	for i := 1; i <= 5; i++ {
		size, _ := b.Submit(numberedFlow(i))
		assert.LessOrEqual(t, size, 3)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.EvictedTotal())

	batch := b.ExtractBatch(0)
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.4", "10.0.0.5"}, srcIPs(batch))
}

func TestSubmit_DropNewestPolicy(t *testing.T) {
	b := newTestBuffer(t, Config{SoftTrigger: 2, Capacity: 3, MaxWait: time.Hour, EvictionPolicy: EvictNewest})

	for i := 1; i <= 5; i++ {
		b.Submit(numberedFlow(i))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.EvictedTotal())

	batch := b.ExtractBatch(0)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, srcIPs(batch))
}

func TestExtractBatch(t *testing.T) {
	t.Run("drains in arrival order", func(t *testing.T) {
		b := newTestBuffer(t, Config{SoftTrigger: 10, Capacity: 10})
		for i := 1; i <= 4; i++ {
			b.Submit(numberedFlow(i))
		}

		batch := b.ExtractBatch(0)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, srcIPs(batch))
		assert.Equal(t, 0, b.Len())
	})

	t.Run("honors the batch size bound", func(t *testing.T) {
		b := newTestBuffer(t, Config{SoftTrigger: 10, Capacity: 10})
		for i := 1; i <= 5; i++ {
			b.Submit(numberedFlow(i))
		}

		batch := b.ExtractBatch(2)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, srcIPs(batch))
		assert.Equal(t, 3, b.Len())

		rest := b.ExtractBatch(0)
		assert.Equal(t, []string{"10.0.0.3", "10.0.0.4", "10.0.0.5"}, srcIPs(rest))
	})

	t.Run("returns nil when empty", func(t *testing.T) {
		b := newTestBuffer(t, Config{})
		assert.Nil(t, b.ExtractBatch(0))
	})

	t.Run("restarts the flush clock", func(t *testing.T) {
		b := newTestBuffer(t, Config{MaxWait: time.Minute})
		base := time.Now()
		b.now = func() time.Time { return base }

		b.ExtractBatch(0)
		assert.Equal(t, base, b.LastFlush())
	})
}

func TestTimeoutDue(t *testing.T) {
	b := newTestBuffer(t, Config{SoftTrigger: 100, Capacity: 100, MaxWait: 5 * time.Second})
	base := time.Now()
	b.now = func() time.Time { return base }
	b.lastFlush = base

	t.Run("never due while empty", func(t *testing.T) {
		base = base.Add(time.Hour)
		assert.False(t, b.TimeoutDue())
	})

	t.Run("due once flows have waited past max wait", func(t *testing.T) {
		b.ExtractBatch(0) // restart clock at current base
		b.Submit(numberedFlow(1))

		assert.False(t, b.TimeoutDue())
		base = base.Add(4 * time.Second)
		assert.False(t, b.TimeoutDue())
		base = base.Add(time.Second)
		assert.True(t, b.TimeoutDue())
	})

	t.Run("submit reports timeout as flush due", func(t *testing.T) {
		_, due := b.Submit(numberedFlow(2))
		assert.True(t, due)
	})
}

func TestRestoreFront(t *testing.T) {
	t.Run("failed batch is retried before newer flows", func(t *testing.T) {
		b := newTestBuffer(t, Config{SoftTrigger: 10, Capacity: 10})
		for i := 1; i <= 3; i++ {
			b.Submit(numberedFlow(i))
		}

		batch := b.ExtractBatch(0)
		b.Submit(numberedFlow(4))

		kept := b.RestoreFront(batch)
		assert.Equal(t, 3, kept)

		all := b.ExtractBatch(0)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, srcIPs(all))
	})

	t.Run("overflow drops the oldest restored flows", func(t *testing.T) {
		b := newTestBuffer(t, Config{SoftTrigger: 3, Capacity: 4})
		for i := 1; i <= 3; i++ {
			b.Submit(numberedFlow(i))
		}

		batch := b.ExtractBatch(0)
		for i := 4; i <= 6; i++ {
			b.Submit(numberedFlow(i))
		}

		kept := b.RestoreFront(batch)
		assert.Equal(t, 1, kept)
		assert.Equal(t, uint64(2), b.EvictedTotal())

		all := b.ExtractBatch(0)
		assert.Equal(t, []string{"10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}, srcIPs(all))
	})

	t.Run("overflow under drop_newest drops the newest queued flows", func(t *testing.T) {
		b := newTestBuffer(t, Config{SoftTrigger: 3, Capacity: 4, EvictionPolicy: EvictNewest})
		for i := 1; i <= 3; i++ {
			b.Submit(numberedFlow(i))
		}

		batch := b.ExtractBatch(0)
		for i := 4; i <= 6; i++ {
			b.Submit(numberedFlow(i))
		}

		kept := b.RestoreFront(batch)
		assert.Equal(t, 3, kept, "restored flows are older than the queue and survive")
		assert.Equal(t, uint64(2), b.EvictedTotal())

		all := b.ExtractBatch(0)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, srcIPs(all))
	})

	t.Run("restoring nothing is a no-op", func(t *testing.T) {
		b := newTestBuffer(t, Config{})
		assert.Equal(t, 0, b.RestoreFront(nil))
		assert.Equal(t, 0, b.Len())
	})
}

func TestUtilization(t *testing.T) {
	b := newTestBuffer(t, Config{SoftTrigger: 5, Capacity: 10})
	assert.Equal(t, 0.0, b.Utilization())

	for i := 1; i <= 5; i++ {
		b.Submit(numberedFlow(i))
	}
	assert.Equal(t, 0.5, b.Utilization())
}
