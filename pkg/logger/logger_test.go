package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

func TestFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)
	l.Warn("fit failed",
		String("model", "vinet"),
		Float64("k0", 1.25),
		Int("evaluations", 42),
		Bool("fixed", true),
		Error(errors.New("boom")),
	)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "warn", got["level"])
	assert.Equal(t, "fit failed", got["message"])
	assert.Equal(t, "vinet", got["model"])
	assert.Equal(t, 1.25, got["k0"])
	assert.Equal(t, float64(42), got["evaluations"])
	assert.Equal(t, true, got["fixed"])
	assert.Equal(t, "boom", got["error"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.WarnLevel)
	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel).With(String("material", "Si"))
	l.Info("done")
	assert.Contains(t, buf.String(), `"material":"Si"`)
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Error("nothing", String("k", "v"))
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorAggregatesByModel(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "eos.warnings", Publisher: pub})

	l.Warn("fit failed", String("model", "vinet"), Int("evaluations", 10))
	l.Warn("fit failed", String("model", "vinet"), Int("evaluations", 20))
	l.Warn("fit failed", String("model", "keane"))
	l.Info("ignored")

	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "eos.warnings", pub.topic)
	counts := map[interface{}]int{}
	for _, e := range pub.batches[0] {
		counts[e.Fields["model"]] = e.Count
	}
	assert.Equal(t, map[interface{}]int{"vinet": 2, "keane": 1}, counts)
}
