package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/crossflow-data/crossflow/internal/traffic"
)

// congestionChart renders an HTML line chart of per-lane priority scores
// over recent grants using go-echarts. It reads from the persistent store
// when available, otherwise from the controller's in-memory history.
func (s *Server) congestionChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 5000 {
			limit = v
		}
	}

	var records []traffic.SignalRecord
	if s.store != nil {
		recs, err := s.store.RecentSignals(limit)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load history: %v", err))
			return
		}
		records = recs
	} else {
		records = s.ctrl.History(limit)
	}

	if len(records) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no signal history available")
		return
	}

	cycles := make([]string, 0, len(records))
	series := make(map[string][]opts.LineData, traffic.NumLanes)
	for _, id := range traffic.Lanes() {
		series[id.String()] = nil
	}
	for _, rec := range records {
		cycles = append(cycles, strconv.Itoa(rec.Cycle))
		for _, id := range traffic.Lanes() {
			name := id.String()
			if name == rec.LaneName {
				series[name] = append(series[name], opts.LineData{Value: rec.PriorityScore})
			} else {
				series[name] = append(series[name], opts.LineData{Value: nil})
			}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Lane priority per grant",
			Subtitle: fmt.Sprintf("last %d signal changes", len(records)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{}),
	)
	line.SetXAxis(cycles)
	for _, id := range traffic.Lanes() {
		name := id.String()
		line.AddSeries(name, series[name])
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to render chart")
	}
}
