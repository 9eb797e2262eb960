package node

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/IsuHapu/smart-agri-project-sub000/dispatch"
	"github.com/IsuHapu/smart-agri-project-sub000/relay"
)

// APIHandler is the node's HTTP front door. Local operations go
// straight to the dispatcher; /api/remote/{nodeID}/... calls translate
// 1:1 into relayed requests and map the relay error taxonomy onto
// status codes: 200 with the dispatcher's payload, 408 on timeout, 400
// on malformed input, 404 when the target is not known to the mesh.
type APIHandler struct {
	node *Node
}

// NewAPIHandler wraps a node for HTTP serving.
func NewAPIHandler(n *Node) *APIHandler {
	return &APIHandler{node: n}
}

// RegisterRoutes registers routes with the provided router.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/data", h.local(dispatch.PathData))
		r.Get("/control", h.local(dispatch.PathControl))
		r.Post("/control", h.local(dispatch.PathControl))
		r.Get("/history", h.local(dispatch.PathHistory))
		r.Get("/files", h.local(dispatch.PathFiles))
		r.Get("/files/download", h.local(dispatch.PathFetchFile))
		r.Get("/mesh-nodes", h.local(dispatch.PathMeshNodes))
		r.Post("/discover", h.local(dispatch.PathDiscover))

		r.HandleFunc("/remote/{nodeID}/*", h.handleRemote)
	})
}

// local maps an HTTP request onto one dispatcher operation, carrying
// the query string and body through unchanged.
func (h *APIHandler) local(basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiPath := basePath
		if r.URL.RawQuery != "" {
			apiPath += "?" + r.URL.RawQuery
		}

		result := h.node.dispatcher.Handle(apiPath, readBody(r))

		w.Header().Set("Content-Type", "application/json")
		if result.IsError() {
			w.WriteHeader(http.StatusBadRequest)
		}
		w.Write(result.Serialize())
	}
}

func (h *APIHandler) handleRemote(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "nodeID")
	apiPath := "/api/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		apiPath += "?" + r.URL.RawQuery
	}

	// File and history transfers move more bytes than a sensor read
	// and get the longer budget.
	timeout := h.node.cfg.RelayTimeout()
	if strings.Contains(apiPath, "/files") || strings.Contains(apiPath, "/history") {
		timeout = h.node.cfg.FileTimeout()
	}

	payload, err := h.node.router.Issue(r.Context(), targetID, apiPath, readBody(r), timeout)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case errors.Is(err, relay.ErrTimeout):
			w.WriteHeader(http.StatusRequestTimeout)
		case errors.Is(err, relay.ErrTargetUnknown):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, relay.ErrInvalidRequest):
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
		w.Write(dispatch.Errorf("%v", err).Serialize())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func readBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return ""
	}
	return string(data)
}
