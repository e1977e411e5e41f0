package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wsgateway/internal/metrics"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]Entry
	failN   int
}

func (f *fakeWriter) WriteBatch(ctx context.Context, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return assertErr
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

var assertErr = fakeError("write failed")

type fakeError string

func (e fakeError) Error() string { return string(e) }

func TestSanitizeRedactsSensitiveFields(t *testing.T) {
	in := map[string]interface{}{
		"username": "alice",
		"password": "hunter2",
		"nested": map[string]interface{}{
			"token": "abc",
			"ok":    "fine",
		},
		"items": []interface{}{
			map[string]interface{}{"api_key": "xyz", "name": "n1"},
		},
	}
	out := Sanitize(in)
	assert.Equal(t, "alice", out["username"])
	assert.Equal(t, redacted, out["password"])
	assert.Equal(t, redacted, out["nested"].(map[string]interface{})["token"])
	assert.Equal(t, "fine", out["nested"].(map[string]interface{})["ok"])
	assert.Equal(t, redacted, out["items"].([]interface{})[0].(map[string]interface{})["api_key"])
}

func TestSanitizeNilIsNil(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
}

func TestPipelineBatchesAndWrites(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, metrics.New(), Config{
		QueueMaxSize:   100,
		BatchSize:      5,
		BatchTimeout:   50 * time.Millisecond,
		EnqueueTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for i := 0; i < 12; i++ {
		p.Enqueue(context.Background(), Entry{Username: "alice", ActionType: "GET", Outcome: OutcomeSuccess})
	}

	require.Eventually(t, func() bool {
		return w.total() == 12
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
}

func TestPipelineDropsWhenQueueFull(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, metrics.New(), Config{
		QueueMaxSize:   1,
		BatchSize:      10,
		BatchTimeout:   time.Hour,
		EnqueueTimeout: 10 * time.Millisecond,
	})

	// No worker started: queue fills immediately.
	p.Enqueue(context.Background(), Entry{Username: "a"})
	p.Enqueue(context.Background(), Entry{Username: "b"}) // should time out and drop
	assert.Equal(t, 1, p.QueueLen())
}

func TestPipelineDrainFlushesRemaining(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, metrics.New(), Config{
		QueueMaxSize:   100,
		BatchSize:      5,
		BatchTimeout:   time.Hour,
		EnqueueTimeout: time.Second,
	})

	for i := 0; i < 3; i++ {
		p.Enqueue(context.Background(), Entry{Username: "alice"})
	}

	drained := p.Drain()
	assert.Equal(t, 3, drained)
	assert.Equal(t, 3, w.total())
}
