package describe

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPhaseText(t *testing.T) {
	tests := []struct {
		phase Phase
		name  string
	}{
		{PhaseIdle, "idle"},
		{PhaseLoading, "loading"},
		{PhaseSuccess, "success"},
		{PhaseError, "error"},
	}

	for _, tt := range tests {
		if tt.phase.String() != tt.name {
			t.Errorf("Expected %q, got %q", tt.name, tt.phase.String())
		}
		var p Phase
		if err := p.UnmarshalText([]byte(tt.name)); err != nil || p != tt.phase {
			t.Errorf("UnmarshalText(%q) = %v, %v", tt.name, p, err)
		}
	}

	var p Phase
	if err := p.UnmarshalText([]byte("done")); err == nil {
		t.Error("Expected error for unknown phase")
	}
	if _, err := Phase(9).MarshalText(); err == nil {
		t.Error("Expected error for invalid phase")
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(Success("A cat."))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"phase":"success"`) || !strings.Contains(s, `"text":"A cat."`) {
		t.Errorf("Unexpected JSON: %s", s)
	}
	if strings.Contains(s, `"message"`) {
		t.Errorf("Expected message to be omitted: %s", s)
	}

	var back State
	if err := json.Unmarshal([]byte(`{"phase":"error","message":"network timeout"}`), &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Phase != PhaseError || back.Payload() != "network timeout" {
		t.Errorf("Unexpected state: %s", back)
	}
}

func TestStatePayload(t *testing.T) {
	if p := Idle().Payload(); p != "" {
		t.Errorf("Expected empty payload for idle, got %q", p)
	}
	if p := Loading("id", 1).Payload(); p != "" {
		t.Errorf("Expected empty payload for loading, got %q", p)
	}
	if !Loading("id", 1).Busy() || Success("x").Busy() {
		t.Error("Busy should only hold for loading")
	}
	if got := Failure("").String(); got != `error("")` {
		t.Errorf("Unexpected String: %s", got)
	}
}
