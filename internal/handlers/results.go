package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/repository"
)

// SessionChart returns echarts options for the frustration timeline of a
// stored session, ready to hand to echarts.setOption on the page.
func (h *ReportsHandler) SessionChart(c *gin.Context) {
	sessionID := c.Param("id")
	data, err := repository.GetFrustrationTimeline(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("Failed to get frustration timeline", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load timeline"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	transitions, err := repository.GetSessionTransitions(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("Failed to get session transitions", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load timeline"})
		return
	}

	c.JSON(http.StatusOK, generateTimelineChart(data, len(transitions)).JSON())
}

func generateTimelineChart(data []repository.TimelineDataPoint, transitions int) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Frustration Over Time",
			Subtitle: stateSubtitle(data, transitions),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "value",
			Min:  0,
			Max:  100,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	// [date, score] pairs
	items := make([]opts.LineData, 0, len(data))
	for _, point := range data {
		items = append(items, opts.LineData{Value: []interface{}{point.Date, point.Value}, Name: point.State})
	}

	line.AddSeries("Frustration score", items).SetSeriesOptions(
		charts.WithLineStyleOpts(opts.LineStyle{Width: 2}),
		charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "hesitation", YAxis: 40},
			opts.MarkLineNameYAxisItem{Name: "frustration", YAxis: 70},
		),
	)
	return line
}

func stateSubtitle(data []repository.TimelineDataPoint, transitions int) string {
	last := data[len(data)-1].State
	if transitions == 1 {
		return "1 state change, ending in " + last
	}
	return fmt.Sprintf("%d state changes, ending in %s", transitions, last)
}

func generateStatePie(counts []repository.StateCount) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Emotional States"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	items := make([]opts.PieData, 0, len(counts))
	for _, sc := range counts {
		items = append(items, opts.PieData{Name: sc.State, Value: sc.Count})
	}
	pie.AddSeries("States", items)
	return pie
}
