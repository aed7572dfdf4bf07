package trigger

import (
	"errors"
	"testing"

	"citypulse/internal/types"
)

func TestLookupCondition_KnownKinds(t *testing.T) {
	for kind, spec := range conditionTable {
		got, err := LookupCondition(string(kind))
		if err != nil {
			t.Fatalf("LookupCondition(%q) returned error: %v", kind, err)
		}
		if got.Kind != kind {
			t.Errorf("LookupCondition(%q).Kind = %q", kind, got.Kind)
		}
		if got.Label == "" {
			t.Errorf("condition %q has no label", kind)
		}
		if got != spec {
			t.Errorf("LookupCondition(%q) = %+v, want %+v", kind, got, spec)
		}
	}
}

func TestLookupCondition_Unknown(t *testing.T) {
	_, err := LookupCondition("volcanic_eruption")
	if err == nil {
		t.Fatal("expected error for unknown condition")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUnknownCondition {
		t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeUnknownCondition)
	}
}

func TestUrgencyAndRealtimeFlags(t *testing.T) {
	if !IsUrgent(types.KindEmergencyAlert) {
		t.Error("emergency_alert must be urgent")
	}
	if IsUrgent(types.KindTemperatureHigh) {
		t.Error("temperature_high must not be urgent")
	}
	if IsRealtimeEligible(types.KindCulturalEvent) {
		t.Error("cultural_event must not be realtime eligible")
	}
	if !IsRealtimeEligible(types.KindBikeShortage) {
		t.Error("bike_shortage must be realtime eligible")
	}
	// Unknown kinds default to neither flag.
	if IsUrgent("nope") || IsRealtimeEligible("nope") {
		t.Error("unknown kinds must report false for both flags")
	}
}
