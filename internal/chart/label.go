package chart

import (
	"math"

	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/models"
)

// AllTimeLabel replaces the percent change on the unbounded timeframe
const AllTimeLabel = "all time"

// axisPadding is the fraction of the value span added above and below a locked axis
const axisPadding = 0.10

// Label is the derived headline for the active series
type Label struct {
	Text      string           `json:"text"`
	Change    float64          `json:"change"`
	Direction models.Direction `json:"direction"`
	Static    bool             `json:"static"`
}

// PercentChange is (last - first) / first * 100, or 0 when first is 0
func PercentChange(first, last float64) float64 {
	if first == 0 || math.IsNaN(first) || math.IsNaN(last) {
		return 0
	}
	return (last - first) / first * 100
}

// computeLabel derives the label from the first and last points of the active
// series. The last point is the live tip when one is present.
func computeLabel(tf models.Timeframe, series models.Series) Label {
	if tf == models.TimeframeAll {
		return Label{Text: AllTimeLabel, Direction: models.DirectionFlat, Static: true}
	}
	first, ok := series.First()
	if !ok {
		return Label{Text: format.Percent(0), Direction: models.DirectionFlat}
	}
	last, _ := series.Last()
	change := PercentChange(first.Value, last.Value)
	if format.PercentIsZero(change) {
		change = 0
	}
	dir := models.DirectionFlat
	switch {
	case change > 0:
		dir = models.DirectionUp
	case change < 0:
		dir = models.DirectionDown
	}
	return Label{Text: format.Percent(change), Change: change, Direction: dir}
}

// AxisRange pins the vertical range of a chart
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r *AxisRange) contains(min, max float64) bool {
	return r != nil && min >= r.Min && max <= r.Max
}

// LockAxisRange pads the series' min/max by 10% of its span. A flat series is padded
// by 10% of its value. Returns nil for an empty series.
func LockAxisRange(series models.Series) *AxisRange {
	min, max, ok := series.MinMax()
	if !ok {
		return nil
	}
	pad := (max - min) * axisPadding
	if pad == 0 {
		pad = math.Abs(max) * axisPadding
	}
	return &AxisRange{Min: min - pad, Max: max + pad}
}
