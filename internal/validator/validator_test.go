package validator_test

import (
	"strings"
	"testing"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/validator"
)

const testToleranceMinutes = 5

var submittedAt = time.Date(2025, 12, 29, 10, 32, 0, 0, time.UTC)

func TestValidateItem_ValidData(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	item := measurement.DataItem{
		Kind:        measurement.KindWifi,
		CollectedAt: "2025-12-29T10:30:00.000Z",
		Payload:     measurement.WifiPayload{Download: 85.2, Upload: 12.1},
	}

	collectedAt, result := v.ValidateItem(item, submittedAt)

	if !result.IsValid {
		t.Errorf("Expected valid result, got invalid: %s", result.AnomalyReason)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)
	if !collectedAt.Equal(expected) {
		t.Errorf("Expected timestamp %v, got %v", expected, collectedAt)
	}
}

func TestValidateItem_NegativeValue(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	item := measurement.DataItem{
		Kind:        measurement.KindLight,
		CollectedAt: "2025-12-29T10:30:00Z",
		Payload:     measurement.LightPayload{Level: -10.5},
	}

	_, result := v.ValidateItem(item, submittedAt)

	if result.IsValid {
		t.Error("Expected invalid result for negative value")
	}
	if result.AnomalyReason != "negative level value detected" {
		t.Errorf("Expected 'negative level value detected', got '%s'", result.AnomalyReason)
	}
}

func TestValidateItem_UnknownKind(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	_, result := v.ValidateItem(measurement.DataItem{Kind: "humidity", CollectedAt: "2025-12-29T10:30:00Z"}, submittedAt)

	if result.IsValid {
		t.Error("Expected invalid result for unknown kind")
	}
}

func TestValidateItem_MismatchedPayload(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	item := measurement.DataItem{
		Kind:        measurement.KindNoise,
		CollectedAt: "2025-12-29T10:30:00Z",
		Payload:     measurement.LightPayload{Level: 100},
	}

	_, result := v.ValidateItem(item, submittedAt)

	if result.IsValid {
		t.Error("Expected invalid result for mismatched payload")
	}
}

func TestValidateItem_InvalidTimestamp(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	item := measurement.DataItem{
		Kind:        measurement.KindLight,
		CollectedAt: "yesterday",
		Payload:     measurement.LightPayload{Level: 100},
	}

	_, result := v.ValidateItem(item, submittedAt)

	if result.IsValid {
		t.Error("Expected invalid result for invalid timestamp")
	}
	if !strings.HasPrefix(result.AnomalyReason, "invalid timestamp format") {
		t.Errorf("Unexpected reason '%s'", result.AnomalyReason)
	}
}

func TestValidateItem_OutsideTolerance(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	item := measurement.DataItem{
		Kind:        measurement.KindLight,
		CollectedAt: "2025-12-29T10:20:00Z",
		Payload:     measurement.LightPayload{Level: 100},
	}

	_, result := v.ValidateItem(item, submittedAt)

	if result.IsValid {
		t.Error("Expected invalid result for timestamp outside tolerance")
	}
}

func TestFilterItems(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	items := []measurement.DataItem{
		{Kind: measurement.KindNoise, CollectedAt: "2025-12-29T10:31:00Z", Payload: measurement.NoisePayload{Average: 65, Min: 50, Max: 80}},
		{Kind: measurement.KindLight, CollectedAt: "2025-12-29T10:31:00Z", Payload: measurement.LightPayload{Level: -1}},
		{Kind: measurement.KindWifi, CollectedAt: "2025-12-29T10:31:00Z", Payload: measurement.WifiPayload{Download: 20, Upload: 5}},
	}

	kept, rejected := v.FilterItems(items, submittedAt)

	if len(kept) != 2 {
		t.Fatalf("Expected 2 kept items, got %d", len(kept))
	}
	if len(rejected) != 1 || rejected[0].Index != 1 {
		t.Errorf("Expected item 1 to be rejected, got %+v", rejected)
	}

	noise := kept[0].Payload.(measurement.NoisePayload)
	if noise.Level != "noisy" {
		t.Errorf("Expected derived level 'noisy', got '%s'", noise.Level)
	}
}

func TestValidateItem_ReasonIsStableAcrossInvalidReadings(t *testing.T) {
	v := validator.NewValidator(testToleranceMinutes)

	item := measurement.DataItem{
		Kind:        measurement.KindWifi,
		CollectedAt: "2025-12-29T10:30:00Z",
		Payload:     measurement.WifiPayload{Download: -1, Upload: -2, Ping: -3},
	}

	for i := 0; i < 50; i++ {
		_, result := v.ValidateItem(item, submittedAt)
		if result.AnomalyReason != "negative download value detected" {
			t.Fatalf("Run %d: expected first reading to be reported, got '%s'", i, result.AnomalyReason)
		}
	}
}
