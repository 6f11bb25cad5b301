package api

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/dispatchgrid/routetrack/internal/httputil"
	"github.com/dispatchgrid/routetrack/internal/monitoring"
)

// handleProgressChart renders the accepted-fix progress series for a route
// as a standalone HTML line chart.
func (s *Server) handleProgressChart(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.NotFound(w, "history recording is disabled")
		return
	}
	routeID := r.URL.Query().Get("route_id")
	if routeID == "" {
		httputil.BadRequest(w, "route_id query parameter is required")
		return
	}

	series, err := s.history.ProgressSeries(routeID, 2000)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	xs := make([]string, 0, len(series))
	ys := make([]opts.LineData, 0, len(series))
	for _, p := range series {
		xs = append(xs, p.Timestamp.Format("15:04:05"))
		ys = append(ys, opts.LineData{Value: p.Progress})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Route Progress", Width: "1100px", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "GPS-derived route progress",
			Subtitle: fmt.Sprintf("route=%s points=%d", routeID, len(series)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "progress"}),
	)
	line.SetXAxis(xs)
	line.AddSeries("progress", ys)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		monitoring.Logf("charts: render progress chart: %v", err)
	}
}
