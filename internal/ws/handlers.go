package ws

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsboard/opsboard/internal/status"
	"github.com/opsboard/opsboard/internal/tools"
)

const (
	defaultToolCallLimit = 20
	maxRequestBody       = 1 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type statusResponse struct {
	status.Status
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
	TotalToolCalls uint64 `json:"total_tool_calls"`
	Subscribers    int    `json:"subscribers"`
	SocketClients  int    `json:"socket_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.state.Status.Load()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:         st,
		UptimeSeconds:  uptime(st),
		ActiveSessions: s.state.Sessions.Len(),
		TotalToolCalls: s.state.Metrics.TotalCalls(),
		Subscribers:    s.state.Bus.SubscriberCount(),
		SocketClients:  s.hub.ClientCount(),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	st := s.state.Status.Load()
	resp := map[string]any{
		"timestamp":      time.Now().UTC(),
		"running":        st.Running,
		"uptime_seconds": uptime(st),
	}
	if host, ok := s.hostStats(); ok {
		resp["host"] = host
	}
	writeJSON(w, http.StatusOK, resp)
}

type metricsResponse struct {
	TotalCalls      int               `json:"total_calls"`
	SuccessfulCalls int               `json:"successful_calls"`
	FailedCalls     int               `json:"failed_calls"`
	SuccessRate     float64           `json:"success_rate"`
	AvgDurationMS   float64           `json:"avg_duration_ms"`
	Counters        map[string]uint64 `json:"counters"`
	EventsPublished uint64            `json:"events_published"`
	Host            *status.HostStats `json:"host,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	calls := s.state.Ledger.Snapshot()
	resp := metricsResponse{
		TotalCalls: len(calls),
		Counters:   s.state.Metrics.Snapshot(),
	}
	var totalMS uint64
	for _, c := range calls {
		if c.Success {
			resp.SuccessfulCalls++
		}
		totalMS += c.DurationMS
	}
	resp.FailedCalls = resp.TotalCalls - resp.SuccessfulCalls
	if resp.TotalCalls > 0 {
		resp.SuccessRate = float64(resp.SuccessfulCalls) / float64(resp.TotalCalls) * 100
		resp.AvgDurationMS = float64(totalMS) / float64(resp.TotalCalls)
	}
	resp.EventsPublished = s.state.Bus.Published()
	if host, ok := s.hostStats(); ok {
		resp.Host = &host
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultToolCallLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.state.Ledger.Recent(limit))
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tools.List())
}

type executeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	res, err := s.executor.Execute(r.Context(), req.Tool, req.Arguments)
	if errors.Is(err, tools.ErrUnknownTool) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	// a failing tool is still a completed call; the result carries the error
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Sessions.List())
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientMeta map[string]string `json:"client_meta"`
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusCreated, s.state.OpenSession(body.ClientMeta))
}

func (s *Server) handleTouchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.state.TouchSession(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.state.CloseSession(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleDebugConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"config":     s.cfg,
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	})
}

func (s *Server) handleDebugState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         s.state.Status.Load(),
		"sessions":       s.state.Sessions.List(),
		"ledger_len":     s.state.Ledger.Len(),
		"ledger_cap":     s.state.Ledger.Cap(),
		"subscribers":    s.state.Bus.SubscriberCount(),
		"socket_clients": s.hub.ClientCount(),
		"metrics":        s.state.Metrics.Snapshot(),
		"tool_count":     s.tools.Len(),
	})
}

func (s *Server) handleDebugEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"subscribers": s.state.Bus.SubscriberCount(),
		"published":   s.state.Bus.Published(),
	})
}

func (s *Server) handleDebugReload(w http.ResponseWriter, _ *http.Request) {
	s.state.TriggerReload()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) hostStats() (status.HostStats, bool) {
	if s.sampler == nil {
		return status.HostStats{}, false
	}
	return s.sampler.Latest()
}

func uptime(st status.Status) int64 {
	if st.StartedAt.IsZero() {
		return 0
	}
	return int64(time.Since(st.StartedAt).Seconds())
}
