package models

import (
	"time"
)

// PricePoint is a single sample of a chart series
type PricePoint struct {
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"v"`
}

// Series is a timestamp-ascending run of points for one timeframe
type Series []PricePoint

// Clone returns a copy that shares no backing array with s
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// First returns the earliest point, false when empty
func (s Series) First() (PricePoint, bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[0], true
}

// Last returns the most recent point, false when empty
func (s Series) Last() (PricePoint, bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[len(s)-1], true
}

// Since returns the points at or after cutoff. A zero cutoff keeps everything.
func (s Series) Since(cutoff time.Time) Series {
	if cutoff.IsZero() {
		return s.Clone()
	}
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !p.Timestamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// MinMax returns the smallest and largest values, false when empty
func (s Series) MinMax() (min, max float64, ok bool) {
	if len(s) == 0 {
		return 0, 0, false
	}
	min, max = s[0].Value, s[0].Value
	for _, p := range s[1:] {
		if p.Value < min {
			min = p.Value
		}
		if p.Value > max {
			max = p.Value
		}
	}
	return min, max, true
}

// Direction classifies a change between two values
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// DirectionOf compares next against prev
func DirectionOf(prev, next float64) Direction {
	switch {
	case next > prev:
		return DirectionUp
	case next < prev:
		return DirectionDown
	default:
		return DirectionFlat
	}
}
