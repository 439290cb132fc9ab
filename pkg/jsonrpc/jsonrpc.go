// Package jsonrpc implements a JSON-RPC 2.0 peer on top of any
// endpoint.Endpoint: outbound calls with correlation and caller-driven
// cancellation, fire-and-forget notifications, and registries for inbound
// method and notification handling.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vizlink/vizlink/pkg/endpoint"
	"github.com/vizlink/vizlink/pkg/log"
)

// HandlerFunc handles an inbound request and produces its result. A non-nil
// error is reported to the remote caller as an INTERNAL_ERROR response.
type HandlerFunc func(params json.RawMessage) (any, error)

// NotificationFunc handles an inbound notification. Nothing is ever sent
// back for it.
type NotificationFunc func(params json.RawMessage)

type Config struct {
	Endpoint endpoint.Endpoint
	Logger   log.Logger
}

// RPC is one JSON-RPC peer. It adds no goroutines of its own: inbound frames
// arrive on the endpoint's dispatch goroutine, outbound sends run on the
// calling goroutine.
type RPC struct {
	endpoint     endpoint.Endpoint
	logger       log.Logger
	callbackName string

	handlerMu     sync.Mutex
	handlers      map[string]HandlerFunc
	notifications map[string]NotificationFunc

	pendingMu sync.Mutex
	pending   map[uint64]*Call
	nextID    uint64
}

// New wires an RPC peer to the endpoint. The inbound callback is registered
// under a random name so several peers can share one endpoint without
// clobbering each other.
func New(conf Config) *RPC {
	r := &RPC{
		endpoint:      conf.Endpoint,
		logger:        conf.Logger,
		callbackName:  "jsonrpc-" + uuid.NewString(),
		handlers:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationFunc),
		pending:       make(map[uint64]*Call),
	}
	r.endpoint.RegisterCallback(r.callbackName, r.handleMessage)
	return r
}

// Endpoint exposes the underlying transport.
func (r *RPC) Endpoint() endpoint.Endpoint {
	return r.endpoint
}

// RegisterHandler associates a method name with a result-producing handler.
// Registering an existing name replaces the previous handler silently.
func (r *RPC) RegisterHandler(method string, fn HandlerFunc) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.handlers[method] = fn
}

// RegisterNotification associates a method name with a fire-and-forget
// handler. Registering an existing name replaces the previous handler
// silently.
func (r *RPC) RegisterNotification(method string, fn NotificationFunc) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.notifications[method] = fn
	r.logDebug("registered notification handler for " + method)
}

// UnregisterHandler removes a method handler. Unknown names are a no-op.
func (r *RPC) UnregisterHandler(method string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	delete(r.handlers, method)
}

// Call issues a request with a fresh correlation id and returns immediately.
// The handle resolves when the matching reply arrives; the cancel function
// resolves it to a null result and forgets the id, after which a late reply
// is silently dropped. Safe to call from any number of goroutines.
func (r *RPC) Call(method string, params any) (*Call, func()) {
	r.pendingMu.Lock()
	r.nextID++
	id := r.nextID
	call := newCall(id, method)
	r.pending[id] = call
	r.pendingMu.Unlock()

	cancel := func() {
		r.pendingMu.Lock()
		_, outstanding := r.pending[id]
		delete(r.pending, id)
		r.pendingMu.Unlock()
		if outstanding {
			call.resolve(nil)
		}
	}

	bs, err := json.Marshal(request{
		Jsonrpc: Version,
		Method:  method,
		Params:  params,
		ID:      &id,
	})
	if err != nil {
		r.pendingMu.Lock()
		delete(r.pending, id)
		r.pendingMu.Unlock()
		call.resolveError(&Error{
			Code:    InternalError,
			Message: "failed to encode request: " + err.Error(),
		})
		return call, cancel
	}

	if !r.endpoint.Send(bs) {
		r.logWarn("failed to send request for method " + method)
	}
	r.logDebug("called method " + method)

	return call, cancel
}

// Notify sends a fire-and-forget request with no id; no reply will ever
// arrive for it. The result is the outcome of the underlying send.
func (r *RPC) Notify(method string, params any) bool {
	bs, err := json.Marshal(request{
		Jsonrpc: Version,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		r.logError("failed to encode notification: " + err.Error())
		return false
	}
	return r.endpoint.Send(bs)
}

// Close detaches the peer from its endpoint and resolves every outstanding
// call to a null result. It does not stop the endpoint; the owner does.
func (r *RPC) Close() {
	r.endpoint.UnregisterCallback(r.callbackName)

	r.pendingMu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]*Call)
	r.pendingMu.Unlock()

	for _, call := range pending {
		call.resolve(nil)
	}
}

// handleMessage runs on the endpoint's dispatch goroutine for every inbound
// frame.
func (r *RPC) handleMessage(message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		r.logError("parse error: " + err.Error())
		r.sendError(nil, ParseError, "Parse error: "+err.Error())
		return
	}

	// Replies to our own calls are matched against the pending table before
	// any request validation, so a response frame never bounces an
	// INVALID_REQUEST back at the peer.
	if msg.isReply() {
		r.handleReply(&msg)
		return
	}

	method, ok := msg.methodName()
	if msg.Jsonrpc != Version || !ok {
		if msg.ID != nil {
			r.sendError(msg.ID, InvalidRequest, "Invalid JSON-RPC request format")
		}
		return
	}

	params := msg.Params
	if params == nil {
		params = json.RawMessage("null")
	}

	// No id marks a notification: invoke if registered, no reply either way.
	if msg.ID == nil {
		r.handlerMu.Lock()
		fn, ok := r.notifications[method]
		r.handlerMu.Unlock()
		if ok {
			fn(params)
		}
		return
	}

	r.handlerMu.Lock()
	fn, ok := r.handlers[method]
	r.handlerMu.Unlock()
	if !ok {
		r.sendError(msg.ID, MethodNotFound, "Method not found: "+method)
		return
	}

	result, err := r.invokeHandler(fn, params)
	if err != nil {
		r.logError("handler for method " + method + " failed: " + err.Error())
		r.sendError(msg.ID, InternalError, "Internal error: "+err.Error())
		return
	}
	r.sendResult(msg.ID, result)
}

// invokeHandler converts a handler panic into an error so a misbehaving
// handler never takes down the dispatch goroutine.
func (r *RPC) invokeHandler(fn HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return fn(params)
}

func (r *RPC) handleReply(msg *inbound) {
	var id uint64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		r.logDebug("ignoring reply with non-integer id")
		return
	}

	r.pendingMu.Lock()
	call, ok := r.pending[id]
	delete(r.pending, id)
	r.pendingMu.Unlock()

	if !ok {
		// Cancelled, duplicate, or replayed replies have no table entry.
		r.logDebug(fmt.Sprintf("ignoring reply with no pending call for id %d", id))
		return
	}

	r.logDebug("received response for method " + call.method)

	if msg.Error != nil {
		call.resolveError(msg.Error)
		return
	}
	call.resolve(msg.Result)
}

func (r *RPC) sendResult(id json.RawMessage, result any) {
	bs, err := json.Marshal(result)
	if err != nil {
		r.logError("failed to encode result: " + err.Error())
		r.sendError(id, InternalError, "Internal error: "+err.Error())
		return
	}
	r.sendResponse(response{
		Jsonrpc: Version,
		ID:      id,
		Result:  bs,
	})
}

// sendError sends a structured error response; a nil id is serialized as
// null per the parse-error contract.
func (r *RPC) sendError(id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	r.sendResponse(response{
		Jsonrpc: Version,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    json.RawMessage("null"),
		},
	})
}

func (r *RPC) sendResponse(resp response) {
	bs, err := json.Marshal(resp)
	if err != nil {
		r.logError("failed to encode response: " + err.Error())
		return
	}
	if !r.endpoint.Send(bs) {
		r.logWarn("failed to send response")
	}
}

func (r *RPC) logDebug(msg string) {
	if r.logger != nil {
		r.logger.Debug("[jsonrpc] " + msg)
	}
}

func (r *RPC) logWarn(msg string) {
	if r.logger != nil {
		r.logger.Warn("[jsonrpc] " + msg)
	}
}

func (r *RPC) logError(msg string) {
	if r.logger != nil {
		r.logger.Error("[jsonrpc] " + msg)
	}
}
