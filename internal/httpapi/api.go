// Package httpapi is the thin host around the dispatch core. The real-time
// transport is an external concern; this adapter assigns connection ids,
// feeds command envelopes to the dispatcher and delivers fanout events over
// Server-Sent Events.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"oceania.org/internal/dispatch"
	"oceania.org/internal/fanout"
	"oceania.org/internal/obs"
)

const maxEnvelopeBytes = 64 << 10

// API exposes the command and event endpoints.
type API struct {
	core *dispatch.Core
	hub  *fanout.Hub
}

// New constructs the API.
func New(core *dispatch.Core, hub *fanout.Hub) *API {
	return &API{core: core, hub: hub}
}

// Handler builds the route table wrapped in the standard middleware.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/command", a.Command)
	mux.HandleFunc("POST /v1/bridge", a.Bridge)
	mux.HandleFunc("GET /v1/events", a.Events)
	mux.HandleFunc("GET /healthz", a.Health)
	mux.Handle("GET /metrics", obs.Handler())

	var h http.Handler = mux
	h = MaxBodyBytes(h, maxEnvelopeBytes)
	h = Logging(h)
	return h
}

// Command feeds one inbound envelope to the dispatcher. The response is
// always 202: command outcomes travel over the event stream, not this reply.
func (a *API) Command(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get("X-Conn-ID")
	if connID == "" {
		http.Error(w, "missing X-Conn-ID header", http.StatusBadRequest)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.core.Handle(r.Context(), connID, raw)
	w.WriteHeader(http.StatusAccepted)
}

// Bridge ingests a message relayed inbound by the external bridge process and
// multicasts it to all connected clients.
func (a *API) Bridge(w http.ResponseWriter, r *http.Request) {
	var msg struct {
		Author  string `json:"author"`
		Content string `json:"post_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Author == "" || msg.Content == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a.core.Bridged(msg.Author, msg.Content)
	w.WriteHeader(http.StatusAccepted)
}

// Events opens the per-connection event stream. The connection lives for the
// duration of the request; disconnect tears down session and rate bucket.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connID := r.URL.Query().Get("conn")
	if connID == "" {
		connID = uuid.NewString()
	}
	username := r.URL.Query().Get("username")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Conn-ID", connID)

	a.core.Connect(connID, username)
	defer a.core.Disconnect(connID)

	ch := a.hub.Subscribe(r.Context(), connID)

	// Initial comment establishes the stream and hands the client its id.
	_, _ = w.Write([]byte(": connected " + connID + "\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// Health is the liveness probe.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
