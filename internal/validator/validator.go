package validator

import (
	"fmt"
	"math"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid       bool
	AnomalyReason string
}

// Rejection records why a data item was dropped from a submission
type Rejection struct {
	Index  int
	Kind   measurement.Kind
	Reason string
}

// Validator handles measurement validation with configurable parameters
type Validator struct {
	tolerance time.Duration
}

// NewValidator creates a new validator accepting items collected within
// toleranceMinutes of the submission time
func NewValidator(toleranceMinutes int) *Validator {
	return &Validator{
		tolerance: time.Duration(toleranceMinutes) * time.Minute,
	}
}

// ValidateItem validates a single data item
func (v *Validator) ValidateItem(item measurement.DataItem, submittedAt time.Time) (time.Time, ValidationResult) {
	result := ValidationResult{IsValid: true}

	if !item.Kind.Valid() || item.Payload == nil {
		result.IsValid = false
		result.AnomalyReason = fmt.Sprintf("unsupported measurement kind %q", item.Kind)
		return time.Time{}, result
	}

	if item.Payload.Kind() != item.Kind {
		result.IsValid = false
		result.AnomalyReason = fmt.Sprintf("payload kind %s does not match item kind %s", item.Payload.Kind(), item.Kind)
		return time.Time{}, result
	}

	for _, r := range item.Payload.Readings() {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			result.IsValid = false
			result.AnomalyReason = fmt.Sprintf("invalid %s value", r.Name)
			return time.Time{}, result
		}
		if r.Value < 0 {
			result.IsValid = false
			result.AnomalyReason = fmt.Sprintf("negative %s value detected", r.Name)
			return time.Time{}, result
		}
	}

	collectedAt, err := timeparser.ParseCollectedAt(item.CollectedAt)
	if err != nil {
		result.IsValid = false
		result.AnomalyReason = fmt.Sprintf("invalid timestamp format: %v", err)
		return time.Time{}, result
	}

	if !timeparser.IsWithinTolerance(collectedAt, submittedAt, v.tolerance) {
		result.IsValid = false
		result.AnomalyReason = fmt.Sprintf("timestamp outside tolerance window (±%s)", v.tolerance)
		return collectedAt, result
	}

	return collectedAt, result
}

// FilterItems keeps the valid items of a submission and reports the rest.
// Noise items without a level get one derived from their average.
func (v *Validator) FilterItems(items []measurement.DataItem, submittedAt time.Time) ([]measurement.DataItem, []Rejection) {
	kept := make([]measurement.DataItem, 0, len(items))
	var rejected []Rejection

	for i, item := range items {
		_, result := v.ValidateItem(item, submittedAt)
		if !result.IsValid {
			rejected = append(rejected, Rejection{Index: i, Kind: item.Kind, Reason: result.AnomalyReason})
			continue
		}
		if noise, ok := item.Payload.(measurement.NoisePayload); ok && noise.Level == "" {
			noise.Level = measurement.NoiseLevel(noise.Average)
			item.Payload = noise
		}
		kept = append(kept, item)
	}

	return kept, rejected
}
