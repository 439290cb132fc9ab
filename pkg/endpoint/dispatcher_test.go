package endpoint

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) callback() Callback {
	return func(message []byte) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, string(message))
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not reached within deadline")
}

func TestDispatcherOrdering(t *testing.T) {
	d := NewDispatcher("test", nil)
	d.Start()
	defer d.Stop()

	rec := &recorder{}
	d.RegisterCallback("rec", rec.callback())

	const n = 100
	for i := 0; i < n; i++ {
		d.Enqueue([]byte(fmt.Sprintf("message-%d", i)))
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == n })

	messages := rec.snapshot()
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("message-%d", i), messages[i])
	}
}

func TestDispatcherPanicDoesNotStopDispatch(t *testing.T) {
	d := NewDispatcher("test", nil)
	d.Start()
	defer d.Stop()

	rec := &recorder{}
	d.RegisterCallback("a-panics", func(message []byte) {
		panic("boom")
	})
	// Map iteration order is unspecified, so run enough messages that the
	// well-behaved callback provably survives panics on both sides of it.
	d.RegisterCallback("b-records", rec.callback())

	const n = 20
	for i := 0; i < n; i++ {
		d.Enqueue([]byte(fmt.Sprintf("%d", i)))
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == n })
}

func TestDispatcherRegistrySnapshot(t *testing.T) {
	d := NewDispatcher("test", nil)
	d.Start()
	defer d.Stop()

	rec := &recorder{}
	var once sync.Once
	d.RegisterCallback("self-modifying", func(message []byte) {
		// Mutating the registry mid-dispatch must not deadlock, and the new
		// callback must not see the in-flight message.
		once.Do(func() {
			d.UnregisterCallback("self-modifying")
			d.RegisterCallback("late", rec.callback())
		})
	})

	d.Enqueue([]byte("first"))
	d.Enqueue([]byte("second"))

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	assert.Equal(t, []string{"second"}, rec.snapshot())
}

func TestDispatcherReplacesCallbackSilently(t *testing.T) {
	d := NewDispatcher("test", nil)
	d.Start()
	defer d.Stop()

	old := &recorder{}
	replacement := &recorder{}
	d.RegisterCallback("cb", old.callback())
	d.RegisterCallback("cb", replacement.callback())

	d.Enqueue([]byte("hello"))

	waitFor(t, func() bool { return len(replacement.snapshot()) == 1 })
	assert.Empty(t, old.snapshot())
}

func TestDispatcherStopIdempotent(t *testing.T) {
	d := NewDispatcher("test", nil)

	// Stop before Start is a no-op.
	d.Stop()

	d.Start()
	d.Stop()
	d.Stop()

	// Unregistering a name that was never registered is a no-op.
	d.UnregisterCallback("missing")
}

func TestDispatcherStopConcurrent(t *testing.T) {
	d := NewDispatcher("test", nil)
	d.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Stop()
		}()
	}
	wg.Wait()
}
