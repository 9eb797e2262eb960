package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/IsuHapu/smart-agri-project-sub000/dispatch"
	"github.com/IsuHapu/smart-agri-project-sub000/meshnet"
	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
	"github.com/IsuHapu/smart-agri-project-sub000/registry"
)

var (
	// ErrTimeout reports that no correlated response arrived within the
	// caller's deadline. This is the normal failure mode for targets
	// that are unreachable or powered off.
	ErrTimeout = errors.New("relay request timed out")

	// ErrTargetUnknown reports that the target id is not known to the
	// registry or the transport, detected before flooding.
	ErrTargetUnknown = errors.New("target node unknown")

	// ErrInvalidRequest reports a malformed issue call, rejected before
	// anything reaches the mesh.
	ErrInvalidRequest = errors.New("invalid relay request")
)

var (
	issuedTotal    = metrics.NewCounter("agrimesh_relay_issued_total")
	timedOutTotal  = metrics.NewCounter("agrimesh_relay_timeouts_total")
	duplicateTotal = metrics.NewCounter("agrimesh_relay_duplicates_dropped_total")
	executedTotal  = metrics.NewCounter("agrimesh_relay_executed_locally_total")
	forwardedTotal = metrics.NewCounter("agrimesh_relay_forwarded_total")
	resolvedTotal  = metrics.NewCounter("agrimesh_relay_responses_resolved_total")
)

// Executor runs an abstract API path locally. The dispatch package
// provides the production implementation.
type Executor interface {
	Handle(apiPath, postData string) dispatch.Result
}

// pendingCall tracks one outstanding request owned by this node: the
// channel the issuing caller blocks on and the issue time the cleanup
// task prunes by.
type pendingCall struct {
	ch       chan json.RawMessage
	issuedAt time.Time
}

// Router is the relay state machine. It turns issue calls into mesh
// floods, deduplicates the floods it observes, executes requests
// addressed to this node, and resolves responses back to their
// blocked issuers.
//
// The pending and processed maps are touched by the transport receive
// callback, by issuing callers, and by the cleanup task, so all access
// is serialized behind the mutex.
type Router struct {
	cfg       *protocol.MeshConfig
	transport meshnet.Transport
	reg       *registry.Registry
	exec      Executor
	log       *slog.Logger

	mu        sync.Mutex
	pending   map[string]*pendingCall
	processed map[string]time.Time
	now       func() time.Time
}

// New creates a router. The caller is responsible for feeding mesh
// messages to HandleMessage and for running Start's cleanup loop.
func New(cfg *protocol.MeshConfig, transport meshnet.Transport, reg *registry.Registry, exec Executor, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		transport: transport,
		reg:       reg,
		exec:      exec,
		log:       log,
		pending:   make(map[string]*pendingCall),
		processed: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Issue floods a request for targetNodeID to execute apiPath and
// blocks the calling context until the correlated response arrives or
// the timeout elapses. A zero timeout uses the configured default.
// The call always returns: success with the response payload, or
// ErrTimeout, ErrTargetUnknown, ErrInvalidRequest, or the context's
// error.
func (r *Router) Issue(ctx context.Context, targetNodeID, apiPath, postData string, timeout time.Duration) (json.RawMessage, error) {
	if targetNodeID == "" || apiPath == "" {
		return nil, fmt.Errorf("%w: target id and api path are required", ErrInvalidRequest)
	}
	if timeout <= 0 {
		timeout = r.cfg.RelayTimeout()
	}

	selfID := r.transport.SelfID()
	if targetNodeID == selfID {
		// Addressed to this node: no flood, straight to the dispatcher.
		executedTotal.Inc()
		return r.exec.Handle(apiPath, postData).Serialize(), nil
	}

	if !r.targetPlausible(targetNodeID) {
		return nil, fmt.Errorf("%w: %s", ErrTargetUnknown, targetNodeID)
	}

	req := protocol.NewRelayRequest(selfID, targetNodeID, apiPath, postData)
	data, err := protocol.SerializeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	call := &pendingCall{ch: make(chan json.RawMessage, 1), issuedAt: r.now()}
	r.mu.Lock()
	r.pending[req.RequestID] = call
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, req.RequestID)
		r.mu.Unlock()
	}()

	issuedTotal.Inc()
	if err := r.transport.Broadcast(data); err != nil {
		return nil, fmt.Errorf("flooding request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-call.ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		timedOutTotal.Inc()
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, targetNodeID, timeout)
	}
}

// targetPlausible reports whether flooding for the target can possibly
// succeed. When the registry has evidence of other nodes and neither
// it nor the transport knows the target, the failure is surfaced
// before the flood. An empty registry means discovery has not run yet,
// which is undetectable in advance, so the call falls through to the
// timeout path.
func (r *Router) targetPlausible(targetNodeID string) bool {
	if _, known := r.reg.Get(targetNodeID); known {
		return true
	}
	for _, id := range r.transport.PeerIDs() {
		if id == targetNodeID {
			return true
		}
	}
	return r.reg.Len() == 0
}

// HandleMessage processes one mesh delivery. It returns true when the
// message was a relay envelope, false when it is some other type the
// caller should route elsewhere.
func (r *Router) HandleMessage(raw []byte) bool {
	typ, err := protocol.PeekType(raw)
	if err != nil {
		return false
	}

	switch typ {
	case protocol.TypeRelayRequest:
		req, err := protocol.UnmarshalMessage[protocol.RelayRequest](raw)
		if err != nil {
			r.log.Warn("malformed relay request", "err", err)
			return true
		}
		r.handleRequest(req, raw)
		return true
	case protocol.TypeRelayResponse:
		resp, err := protocol.UnmarshalMessage[protocol.RelayResponse](raw)
		if err != nil {
			r.log.Warn("malformed relay response", "err", err)
			return true
		}
		r.handleResponse(resp)
		return true
	default:
		return false
	}
}

// handleRequest is the per-node receive path for someone's request.
// The correlation id is recorded as processed before execution so a
// duplicate arriving mid-execution is already closed out.
func (r *Router) handleRequest(req *protocol.RelayRequest, raw []byte) {
	if req.RequestID == "" {
		return
	}

	r.mu.Lock()
	if _, dup := r.processed[req.RequestID]; dup {
		r.mu.Unlock()
		duplicateTotal.Inc()
		return
	}
	r.processed[req.RequestID] = r.now()
	r.mu.Unlock()

	selfID := r.transport.SelfID()
	if req.TargetNodeID != selfID {
		// Not addressed here: re-flood unchanged so the protocol holds
		// on transports that do not already deliver to everyone.
		forwardedTotal.Inc()
		if err := r.transport.Broadcast(raw); err != nil {
			r.log.Warn("re-flood failed", "requestId", req.RequestID, "err", err)
		}
		return
	}

	executedTotal.Inc()
	result := r.exec.Handle(req.APIPath, req.PostData)
	if result.IsError() {
		r.log.Warn("local execution failed", "requestId", req.RequestID, "path", req.APIPath, "err", result.Error)
	}

	resp := protocol.NewRelayResponse(req, result.Serialize())
	data, err := protocol.SerializeMessage(resp)
	if err != nil {
		r.log.Error("encoding relay response", "requestId", req.RequestID, "err", err)
		return
	}
	if err := r.transport.Broadcast(data); err != nil {
		r.log.Warn("flooding response failed", "requestId", req.RequestID, "err", err)
	}
}

// handleResponse resolves a response against this node's pending
// requests. Responses for other origins, and tardy responses whose
// pending entry already timed out, are dropped.
func (r *Router) handleResponse(resp *protocol.RelayResponse) {
	r.mu.Lock()
	call, ok := r.pending[resp.RequestID]
	if ok {
		delete(r.pending, resp.RequestID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	resolvedTotal.Inc()
	call.ch <- resp.Response
}

// Start runs the periodic cleanup loop until the context is canceled:
// processed-request records past their retirement age are dropped to
// bound memory, and pending entries past their maximum age are retired
// defensively in case an issuing caller's deadline never fired.
func (r *Router) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.CleanupInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *Router) cleanup() {
	now := r.now()
	processedMax := r.cfg.ProcessedMaxAge()
	pendingMax := r.cfg.PendingMaxAge()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, seen := range r.processed {
		if now.Sub(seen) > processedMax {
			delete(r.processed, id)
		}
	}
	for id, call := range r.pending {
		if now.Sub(call.issuedAt) > pendingMax {
			delete(r.pending, id)
		}
	}
}

// PendingCount reports the number of outstanding issued requests.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ProcessedCount reports the size of the dedup record.
func (r *Router) ProcessedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processed)
}
