package anomaly

import (
	"fmt"

	"github.com/crowdsense/crowdsense-worker/internal/measurement"
)

// Flag marks an accepted measurement that stands out from the project's
// earlier readings of the same kind. Flagged items still count as contributions.
type Flag struct {
	Index  int
	Kind   measurement.Kind
	Reason string
}

// History holds recent primary readings per measurement kind, oldest first
type History map[measurement.Kind][]float64

// Detector flags spikes against a rolling average of previous readings
type Detector struct {
	spikeThreshold float64
	minDataPoints  int
	window         int
}

// NewDetector creates a detector that flags readings above spikeThreshold
// times the rolling average of the last window readings, once at least
// minDataPoints readings are known
func NewDetector(spikeThreshold float64, minDataPoints, window int) *Detector {
	if window < minDataPoints {
		window = minDataPoints
	}
	return &Detector{
		spikeThreshold: spikeThreshold,
		minDataPoints:  minDataPoints,
		window:         window,
	}
}

// PrimaryReading is the value a payload is compared on: noise average,
// wifi download speed or light level
func PrimaryReading(p measurement.Payload) (measurement.Reading, bool) {
	if p == nil {
		return measurement.Reading{}, false
	}
	readings := p.Readings()
	if len(readings) == 0 {
		return measurement.Reading{}, false
	}
	return readings[0], true
}

// BuildHistory collects primary readings from earlier submissions
func (d *Detector) BuildHistory(subs []measurement.Submission) History {
	h := History{}
	for _, sub := range subs {
		for _, item := range sub.Items {
			d.record(h, item)
		}
	}
	return h
}

func (d *Detector) record(h History, item measurement.DataItem) {
	r, ok := PrimaryReading(item.Payload)
	if !ok {
		return
	}
	values := append(h[item.Kind], r.Value)
	if len(values) > d.window {
		values = values[len(values)-d.window:]
	}
	h[item.Kind] = values
}

// Check reports whether value is a spike relative to history
func (d *Detector) Check(value float64, history []float64) (bool, string) {
	if len(history) < d.minDataPoints {
		return false, ""
	}

	sum := 0.0
	for _, v := range history {
		sum += v
	}
	average := sum / float64(len(history))

	if average > 0 && value > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: value %.2f exceeds %.1fx rolling average %.2f",
			value, d.spikeThreshold, average)
	}
	return false, ""
}

// Flag checks items in order against h and records each one into h, so
// later items of the same batch are compared with earlier ones too
func (d *Detector) Flag(items []measurement.DataItem, h History) []Flag {
	var flags []Flag
	for i, item := range items {
		r, ok := PrimaryReading(item.Payload)
		if !ok {
			continue
		}
		if spike, reason := d.Check(r.Value, h[item.Kind]); spike {
			flags = append(flags, Flag{Index: i, Kind: item.Kind, Reason: r.Name + ": " + reason})
		}
		d.record(h, item)
	}
	return flags
}
