package measurement

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of environmental measurement
type Kind string

const (
	KindNoise Kind = "noise"
	KindWifi  Kind = "wifi"
	KindLight Kind = "light"
)

// Label returns the human readable name of the kind
func (k Kind) Label() string {
	switch k {
	case KindNoise:
		return "Background Noise"
	case KindWifi:
		return "WiFi Speed"
	case KindLight:
		return "Light Intensity"
	default:
		return string(k)
	}
}

// Valid reports whether k is one of the supported kinds
func (k Kind) Valid() bool {
	return k == KindNoise || k == KindWifi || k == KindLight
}

// Payload is implemented by NoisePayload, WifiPayload and LightPayload.
type Payload interface {
	Kind() Kind
	// Readings returns the numeric values carried by the payload in a fixed order
	Readings() []Reading
}

// Reading is one named numeric value of a payload
type Reading struct {
	Name  string
	Value float64
}

// Location is where a measurement was captured
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// NoisePayload is a background noise recording summary in dB
type NoisePayload struct {
	Average  float64   `json:"average"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Duration string    `json:"duration,omitempty"`
	Level    string    `json:"level,omitempty"`
	Location *Location `json:"location,omitempty"`
}

func (NoisePayload) Kind() Kind { return KindNoise }

func (p NoisePayload) Readings() []Reading {
	return []Reading{{"average", p.Average}, {"min", p.Min}, {"max", p.Max}}
}

// WifiPayload is a network speed test result in Mbps
type WifiPayload struct {
	Download float64   `json:"download"`
	Upload   float64   `json:"upload"`
	Ping     float64   `json:"ping,omitempty"`
	ISP      string    `json:"isp,omitempty"`
	Location *Location `json:"location,omitempty"`
}

func (WifiPayload) Kind() Kind { return KindWifi }

func (p WifiPayload) Readings() []Reading {
	return []Reading{{"download", p.Download}, {"upload", p.Upload}, {"ping", p.Ping}}
}

// LightPayload is an ambient light reading in lux
type LightPayload struct {
	Level    float64   `json:"level"`
	Location *Location `json:"location,omitempty"`
}

func (LightPayload) Kind() Kind { return KindLight }

func (p LightPayload) Readings() []Reading {
	return []Reading{{"level", p.Level}}
}

// DataItem is a single captured measurement inside a submission
type DataItem struct {
	Kind        Kind
	CollectedAt string
	Payload     Payload
}

type wireItem struct {
	Type      Kind            `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes the item in its tagged wire form
func (d DataItem) MarshalJSON() ([]byte, error) {
	var data []byte
	if d.Payload != nil {
		var err error
		data, err = json.Marshal(d.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", d.Kind, err)
		}
	}
	return json.Marshal(wireItem{Type: d.Kind, Timestamp: d.CollectedAt, Data: data})
}

// UnmarshalJSON decodes the tagged wire form, selecting the payload type by kind
func (d *DataItem) UnmarshalJSON(b []byte) error {
	var w wireItem
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var payload Payload
	switch w.Type {
	case KindNoise:
		var p NoisePayload
		if err := decodePayload(w.Data, &p); err != nil {
			return fmt.Errorf("invalid noise payload: %w", err)
		}
		payload = p
	case KindWifi:
		var p WifiPayload
		if err := decodePayload(w.Data, &p); err != nil {
			return fmt.Errorf("invalid wifi payload: %w", err)
		}
		payload = p
	case KindLight:
		var p LightPayload
		if err := decodePayload(w.Data, &p); err != nil {
			return fmt.Errorf("invalid light payload: %w", err)
		}
		payload = p
	default:
		return fmt.Errorf("unknown measurement kind %q", w.Type)
	}

	d.Kind = w.Type
	d.CollectedAt = w.Timestamp
	d.Payload = payload
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(raw, v)
}

// Submission is a batch of measurements a contributor sent for a project
type Submission struct {
	ID                 string
	ProjectID          string
	ContributorAddress string
	SubmittedAt        time.Time
	ArchiveKey         string
	Items              []DataItem
}

// NoiseLevel classifies an average dB reading
func NoiseLevel(averageDB float64) string {
	switch {
	case averageDB < 40:
		return "quiet"
	case averageDB < 60:
		return "moderate"
	case averageDB < 80:
		return "noisy"
	default:
		return "loud"
	}
}
