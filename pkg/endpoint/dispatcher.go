package endpoint

import (
	"fmt"
	"sync"

	"github.com/vizlink/vizlink/pkg/log"
)

// Dispatcher is the callback dispatch engine embedded by every substrate.
// The I/O path enqueues raw messages; a single dispatch goroutine drains the
// queue in arrival order and invokes the registered callbacks, so slow or
// panicking callback code never stalls the connection.
type Dispatcher struct {
	name   string
	logger log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	running bool
	done    chan struct{}

	cbMu      sync.Mutex
	callbacks map[string]Callback
}

func NewDispatcher(name string, logger log.Logger) *Dispatcher {
	d := &Dispatcher{
		name:      name,
		logger:    logger,
		callbacks: make(map[string]Callback),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Dispatcher) Name() string {
	return d.name
}

func (d *Dispatcher) RegisterCallback(name string, cb Callback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.callbacks[name] = cb
}

func (d *Dispatcher) UnregisterCallback(name string) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	delete(d.callbacks, name)
}

// Enqueue hands one received message to the dispatch goroutine. It never
// invokes callbacks itself, so it is safe to call from the I/O path.
func (d *Dispatcher) Enqueue(message []byte) {
	d.mu.Lock()
	d.queue = append(d.queue, message)
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Start launches the dispatch goroutine. Calling Start on a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.loop()
}

// Stop halts dispatch once any in-flight callback pass completes, then joins
// the dispatch goroutine. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	done := d.done
	d.mu.Unlock()

	d.cond.Broadcast()
	<-done
}

func (d *Dispatcher) loop() {
	for {
		d.mu.Lock()
		for d.running && len(d.queue) == 0 {
			d.cond.Wait()
		}
		if !d.running {
			done := d.done
			d.mu.Unlock()
			close(done)
			return
		}
		message := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		// Snapshot the registry so callbacks can register and unregister
		// (including themselves) without deadlocking. Changes made during a
		// pass do not affect that pass.
		d.cbMu.Lock()
		snapshot := make(map[string]Callback, len(d.callbacks))
		for name, cb := range d.callbacks {
			snapshot[name] = cb
		}
		d.cbMu.Unlock()

		for name, cb := range snapshot {
			d.invoke(name, cb, message)
		}
	}
}

func (d *Dispatcher) invoke(name string, cb Callback, message []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logError(fmt.Sprintf("[%s] callback %q panicked: %v", d.name, name, r))
		}
	}()
	cb(message)
}

func (d *Dispatcher) logError(msg string) {
	if d.logger != nil {
		d.logger.Error(msg)
	}
}
