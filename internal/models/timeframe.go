package models

import (
	"time"
)

// Timeframe names a chart window and its granularity
type Timeframe string

const (
	Timeframe1H  Timeframe = "1h"
	Timeframe1D  Timeframe = "1d"
	Timeframe1MO Timeframe = "1mo"
	Timeframe1Y  Timeframe = "1y"
	TimeframeAll Timeframe = "all"
)

// PriceCycle is the toggle order of the price chart
func PriceCycle() []Timeframe {
	return []Timeframe{Timeframe1D, Timeframe1MO, Timeframe1Y, Timeframe1H}
}

// SupplyCycle is the toggle order of the shielded supply chart
func SupplyCycle() []Timeframe {
	return []Timeframe{TimeframeAll, Timeframe1Y, Timeframe1MO, Timeframe1D}
}

// Window returns the span covered by the timeframe. Zero means unbounded.
func (t Timeframe) Window() time.Duration {
	switch t {
	case Timeframe1H:
		return time.Hour
	case Timeframe1D:
		return 24 * time.Hour
	case Timeframe1MO:
		return 30 * 24 * time.Hour
	case Timeframe1Y:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// Days is the day-range sent to the historical endpoint ("max" for all)
func (t Timeframe) Days() string {
	switch t {
	case Timeframe1H:
		// 1/24 of a day; the upstream accepts fractional ranges
		return "0.0417"
	case Timeframe1D:
		return "1"
	case Timeframe1MO:
		return "30"
	case Timeframe1Y:
		return "365"
	default:
		return "max"
	}
}

// TooltipLayout is the time layout used for hover labels on this timeframe
func (t Timeframe) TooltipLayout() string {
	switch t {
	case Timeframe1H:
		return "15:04"
	case Timeframe1D:
		return "Jan 2, 15:04"
	case Timeframe1MO:
		return "Jan 2"
	default:
		return "Jan 2, 2006"
	}
}

// Valid reports whether t is a known timeframe
func (t Timeframe) Valid() bool {
	switch t {
	case Timeframe1H, Timeframe1D, Timeframe1MO, Timeframe1Y, TimeframeAll:
		return true
	}
	return false
}
