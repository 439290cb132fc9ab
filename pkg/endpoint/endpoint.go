// Package endpoint defines the transport-endpoint contract shared by all
// vizlink substrates, plus the callback dispatch engine that decouples
// message arrival from callback execution.
package endpoint

import (
	"time"
)

// Callback receives one raw inbound message. Every registered callback is
// invoked for every message; filtering is the callback's job.
type Callback func(message []byte)

// Endpoint is one side of a persistent bidirectional connection. It is the
// full capability set the RPC layer requires from a transport; anything that
// satisfies it (websocket, tcp, an in-process pipe) can carry the protocol.
type Endpoint interface {
	// Send transmits a message to the remote side. An acceptor broadcasts to
	// every connected peer and reports false only when there are no peers;
	// a per-peer failure is logged and does not fail the broadcast.
	Send(message []byte) bool

	// RegisterCallback adds a named callback invoked for every inbound
	// message. Registering an existing name replaces the previous callback.
	RegisterCallback(name string, cb Callback)

	// UnregisterCallback removes a named callback. Removing a name that is
	// not registered is a no-op.
	UnregisterCallback(name string)

	// IsConnected reports whether at least one connection is active.
	IsConnected() bool

	// WaitConnection blocks until a connection is active or the timeout
	// elapses, and reports the connection state at return.
	WaitConnection(timeout time.Duration) bool

	// Stop halts the I/O path, then the dispatch engine, and joins both.
	// Idempotent and safe to call from any goroutine.
	Stop()

	// Name identifies the endpoint in log output.
	Name() string
}
