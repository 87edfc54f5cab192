// package wire defines the JSON envelope for the plotter's control
// channel and the HTTP handlers that sit in front of a
// plotsupervisor.Supervisor (§6). The channel transport itself
// (WebSocket framing, static file serving) is an external collaborator
// out of scope here (§1 Non-goals); this package only specifies the
// message shapes and the plain net/http handlers, the way
// cmd/cli/main.go wires flags straight to its domain types without an
// intervening router library.
package wire

import (
	"encoding/json"
	"io"
	"net/http"

	"axiplot.io/axierr"
	"axiplot.io/motion"
	"axiplot.io/plotsupervisor"
)

// Envelope is the {c, p} control-channel message shape (§6 "Control
// protocol").
type Envelope struct {
	C string          `json:"c"`
	P json.RawMessage `json:"p,omitempty"`
}

// Outbound message kinds.
const (
	KindDev           = "dev"
	KindPause         = "pause"
	KindProgress      = "progress"
	KindCancelled     = "cancelled"
	KindFinished      = "finished"
	KindPlan          = "plan"
	KindPong          = "pong"
	KindSVGIOEnabled  = "svgio-enabled"
)

// Inbound message kinds.
const (
	KindPing          = "ping"
	KindLimp          = "limp"
	KindSetPenHeight  = "setPenHeight"
)

// ProgressPayload is the payload of a "progress" message.
type ProgressPayload struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// FinishedPayload is the payload of a "finished" message.
type FinishedPayload struct {
	Error string `json:"error,omitempty"`
}

// DevPayload is the payload of a "dev" message, reporting the
// currently connected EBB (or its absence).
type DevPayload struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
}

// SetPenHeightPayload is the payload of an inbound "setPenHeight"
// message (§6 inbound messages).
type SetPenHeightPayload struct {
	Height int `json:"height"`
	Rate   int `json:"rate"`
}

func envelope(kind string, payload any) Envelope {
	if payload == nil {
		return Envelope{C: kind}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic("wire: unmarshalable payload for " + kind)
	}
	return Envelope{C: kind, P: data}
}

// Broadcaster delivers an Envelope to every connected control-channel
// client. Its transport (WebSocket, SSE, browser serial) is an
// external collaborator (§1 Non-goals); wire only produces the
// Envelope values to send.
type Broadcaster interface {
	Broadcast(Envelope)
}

// Sink adapts a Broadcaster to plotsupervisor.EventSink, translating
// each supervisor event into the matching outbound Envelope kind
// (§6).
type Sink struct {
	Broadcaster Broadcaster
}

func (s Sink) PlanAccepted(plan *motion.Plan) {
	data, err := plan.Serialize()
	if err != nil {
		return
	}
	s.Broadcaster.Broadcast(Envelope{C: KindPlan, P: data})
}

func (s Sink) Progress(completed, total int) {
	s.Broadcaster.Broadcast(envelope(KindProgress, ProgressPayload{Completed: completed, Total: total}))
}

func (s Sink) Paused() {
	s.Broadcaster.Broadcast(envelope(KindPause, nil))
}

func (s Sink) Resumed() {
	s.Broadcaster.Broadcast(envelope(KindPause, nil))
}

func (s Sink) Cancelled() {
	s.Broadcaster.Broadcast(envelope(KindCancelled, nil))
}

func (s Sink) Finished(err error) {
	p := FinishedPayload{}
	if err != nil {
		p.Error = err.Error()
	}
	s.Broadcaster.Broadcast(envelope(KindFinished, p))
}

func (s Sink) DeviceStatus(status string) {
	s.Broadcaster.Broadcast(envelope(KindDev, DevPayload{Connected: status != "", Port: status}))
}

// PlotStatusResponse is the body of GET /plot/status (§6).
type PlotStatusResponse struct {
	Plotting bool `json:"plotting"`
}

// Handlers wires the plot lifecycle HTTP endpoints (§6 "HTTP
// endpoints") to a Supervisor.
type Handlers struct {
	Supervisor *plotsupervisor.Supervisor

	// PlanTransform, if set, runs on every plan POSTed to /plot before
	// it reaches the Supervisor — e.g. substituting configured pen
	// heights via motion.Plan.WithPenHeights. Optional; nil leaves the
	// plan unchanged.
	PlanTransform func(*motion.Plan) *motion.Plan
}

func (h Handlers) Plot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, axierr.InvalidPlan("reading plan body", err).Error(), http.StatusInternalServerError)
		return
	}
	plan, err := motion.Deserialize(body)
	if err != nil {
		http.Error(w, axierr.InvalidPlan("malformed plan body", err).Error(), http.StatusInternalServerError)
		return
	}
	if h.PlanTransform != nil {
		plan = h.PlanTransform(plan)
	}
	if err := h.Supervisor.Plot(plan); err != nil {
		if axierr.Is(err, axierr.KindPlotInProgress) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.Supervisor.Cancel()
	w.WriteHeader(http.StatusOK)
}

func (h Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.Supervisor.Pause()
	w.WriteHeader(http.StatusOK)
}

func (h Handlers) Resume(w http.ResponseWriter, r *http.Request) {
	h.Supervisor.Resume()
	w.WriteHeader(http.StatusOK)
}

func (h Handlers) PlotStatus(w http.ResponseWriter, r *http.Request) {
	status := h.Supervisor.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PlotStatusResponse{Plotting: status.State != plotsupervisor.StateIdle})
}

// Register installs the plot lifecycle handlers on mux (§6 "HTTP
// endpoints").
func (h Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /plot", h.Plot)
	mux.HandleFunc("POST /cancel", h.Cancel)
	mux.HandleFunc("POST /pause", h.Pause)
	mux.HandleFunc("POST /resume", h.Resume)
	mux.HandleFunc("GET /plot/status", h.PlotStatus)
}
