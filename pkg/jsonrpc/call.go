package jsonrpc

import (
	"encoding/json"
	"sync"
	"time"
)

// Call is the async result handle for one outstanding request. It resolves
// exactly once: with the reply's result, with the reply's error, or with a
// null result when cancelled.
type Call struct {
	id     uint64
	method string

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    *Error
}

func newCall(id uint64, method string) *Call {
	return &Call{
		id:     id,
		method: method,
		done:   make(chan struct{}),
	}
}

// ID is the correlation id the request was sent with.
func (c *Call) ID() uint64 {
	return c.id
}

func (c *Call) Method() string {
	return c.method
}

// Done is closed once the call resolves or is cancelled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result reports the outcome. Only meaningful once Done is closed; a
// cancelled call yields nil, nil.
func (c *Call) Result() (json.RawMessage, *Error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the call resolves or the timeout elapses. The final
// result reports whether the call resolved in time; on timeout the caller
// typically invokes the cancel function returned by Call.
func (c *Call) Wait(timeout time.Duration) (json.RawMessage, *Error, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.result, c.err, true
	case <-timer.C:
		return nil, nil, false
	}
}

func (c *Call) resolve(result json.RawMessage) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

func (c *Call) resolveError(err *Error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}
