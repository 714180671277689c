package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/crossflow-data/crossflow/internal/monitoring"
	"github.com/crossflow-data/crossflow/internal/traffic"
	"github.com/crossflow-data/crossflow/internal/version"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status":       "healthy",
		"version":      version.String(),
		"timestamp":    time.Now(),
		"loop_running": s.loop.IsRunning(),
		"store_ready":  s.store != nil,
	})
}

func (s *Server) signals(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"signals":    s.ctrl.Status(),
		"statistics": s.ctrl.Statistics(),
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	records := s.ctrl.History(limit)
	s.writeJSON(w, map[string]interface{}{
		"history":       records,
		"total_records": s.ctrl.Statistics().TotalSignalChanges,
	})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, s.ctrl.Statistics())
}

// laneLiveData is one lane's row in the live dashboard payload.
type laneLiveData struct {
	Lane            traffic.LaneID          `json:"lane_id"`
	Name            string                  `json:"lane_name"`
	CurrentVehicles int                     `json:"current_vehicles"`
	WaitTime        int                     `json:"wait_time"`
	Density         int                     `json:"density"`
	Signal          traffic.Phase           `json:"signal"`
	CongestionLevel traffic.CongestionLevel `json:"congestion_level"`
}

func (s *Server) liveData(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	obs, ok := s.loop.Latest()
	if !ok {
		s.writeJSON(w, map[string]interface{}{
			"is_running": s.loop.IsRunning(),
			"lanes":      []laneLiveData{},
		})
		return
	}

	lanes := make([]laneLiveData, 0, len(obs.Snapshots))
	for _, snap := range obs.Snapshots {
		sig := obs.Status.Lanes[snap.Lane]
		lanes = append(lanes, laneLiveData{
			Lane:            snap.Lane,
			Name:            snap.Name,
			CurrentVehicles: snap.Current,
			WaitTime:        int(sig.TimeRemaining),
			Density:         traffic.DensityPercent(snap.Current, s.thresholds),
			Signal:          sig.State,
			CongestionLevel: snap.Level,
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"is_running": s.loop.IsRunning(),
		"lanes":      lanes,
		"timestamp":  obs.Timestamp,
	})
}

func (s *Server) analysis(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	obs, ok := s.loop.Latest()
	if !ok {
		// Explicit "no data yet" rather than fabricated defaults.
		s.writeJSON(w, map[string]interface{}{
			"available": false,
			"message":   "no analysis available yet",
		})
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"available":    true,
		"timestamp":    obs.Timestamp,
		"lane_results": obs.Snapshots,
		"analysis":     obs.Ranking,
	})
}

func (s *Server) trafficPrediction(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	obs, ok := s.loop.Latest()
	if !ok || len(obs.Snapshots) == 0 {
		s.writeJSON(w, map[string]interface{}{
			"available": false,
			"message":   "waiting for traffic data",
		})
		return
	}

	total := 0
	for _, snap := range obs.Snapshots {
		total += snap.Current
	}
	avg := float64(total) / float64(len(obs.Snapshots))

	s.writeJSON(w, map[string]interface{}{
		"available": true,
		"forecast":  traffic.Predict(avg, time.Now()),
		"timestamp": time.Now(),
	})
}

func (s *Server) laneDetail(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	id, err := strconv.Atoi(r.PathValue("id"))
	lane := traffic.LaneID(id)
	if err != nil || !lane.Valid() {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid lane ID. Must be 0-3")
		return
	}

	obs, ok := s.loop.Latest()
	if ok {
		for _, snap := range obs.Snapshots {
			if snap.Lane != lane {
				continue
			}
			s.writeJSON(w, map[string]interface{}{
				"lane_id":   lane,
				"lane_name": lane.String(),
				"data":      snap,
				"signal":    obs.Status.Lanes[lane],
				"timestamp": obs.Timestamp,
			})
			return
		}
	}

	s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no data available for lane %d", id))
}

func (s *Server) decisions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	cond := traffic.TrafficConditions{Time: time.Now()}
	if obs, ok := s.loop.Latest(); ok {
		for _, snap := range obs.Snapshots {
			sig := obs.Status.Lanes[snap.Lane]
			cond.Lanes = append(cond.Lanes, traffic.LaneCondition{
				Name:          snap.Name,
				Vehicles:      snap.Current,
				SignalState:   sig.State,
				TimeRemaining: sig.TimeRemaining,
			})
			cond.TotalVehicles += snap.Current
		}
	}

	advice, err := s.advisor.Advise(r.Context(), cond)
	if err != nil {
		// Advisors wrap their own fallback; an error here still must not
		// surface as a server failure.
		monitoring.Logf("api: advisor failed: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "advisory unavailable")
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"decision":  advice,
		"timestamp": time.Now(),
	})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Lanes []traffic.BatchLaneStats `json:"lanes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ranking, status, err := s.engine.ProcessCycle(req.Lanes)
	switch {
	case errors.Is(err, traffic.ErrNoData):
		s.writeJSONError(w, http.StatusBadRequest, "no lane data provided")
		return
	case errors.Is(err, traffic.ErrInvalidLane):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("evaluation failed: %v", err))
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"analysis":      ranking,
		"signal_status": status,
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if s.loop.IsRunning() {
		s.writeJSON(w, map[string]interface{}{
			"message":    "live analysis already running",
			"is_running": true,
		})
		return
	}

	go func() {
		if err := s.loop.Run(context.Background()); err != nil {
			monitoring.Logf("api: loop exited: %v", err)
		}
	}()

	s.writeJSON(w, map[string]interface{}{
		"message":    "live analysis started",
		"is_running": true,
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	s.loop.Stop()
	s.writeJSON(w, map[string]interface{}{
		"message":    "live analysis stopped",
		"is_running": s.loop.IsRunning(),
	})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	s.ctrl.Reset()
	s.loop.ResetObservation()
	if s.store != nil {
		if err := s.store.Wipe(); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to wipe history: %v", err))
			return
		}
	}

	s.writeJSON(w, map[string]string{"message": "system reset"})
}

func (s *Server) emergency(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		LaneID *int `json:"lane_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LaneID == nil {
		s.writeJSONError(w, http.StatusBadRequest, "lane_id is required")
		return
	}

	lane := traffic.LaneID(*req.LaneID)
	if err := s.ctrl.EmergencyOverride(lane); err != nil {
		if errors.Is(err, traffic.ErrInvalidLane) {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid lane_id. Must be 0-3")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"message": fmt.Sprintf("Emergency mode activated for %s lane", lane),
		"signals": s.ctrl.Status(),
	})
}
