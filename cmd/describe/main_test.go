package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/teslashibe/go-lens/internal/config"
	"github.com/teslashibe/go-lens/pkg/describe"
)

func TestReportSuccess(t *testing.T) {
	var buf bytes.Buffer
	if err := report(&buf, describe.Success("A cat."), false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if buf.String() != "A cat.\n" {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestReportErrorFailsInBothModes(t *testing.T) {
	for _, asJSON := range []bool{false, true} {
		var buf bytes.Buffer
		err := report(&buf, describe.Failure("network timeout"), asJSON)
		if err == nil || !strings.Contains(err.Error(), "network timeout") {
			t.Errorf("json=%v: expected failure, got %v", asJSON, err)
		}
		if asJSON {
			var st describe.State
			if err := json.Unmarshal(buf.Bytes(), &st); err != nil || st.Phase != describe.PhaseError {
				t.Errorf("Expected the error state as JSON, got %q", buf.String())
			}
		}
	}
}

func TestProviderFlagDoesNotReuseOtherKeys(t *testing.T) {
	environ := map[string]string{"GEMINI_API_KEY": "google-secret"}
	getenv := func(key string) string { return environ[key] }

	cfg := config.Default()
	cfg.ApplyEnv(withProvider(getenv, "openai"))

	if cfg.Provider.Name != "openai" || cfg.Provider.APIKey != "" {
		t.Errorf("Expected openai without a key, got %+v", cfg.Provider)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation to require OPENAI_API_KEY")
	}

	environ["OPENAI_API_KEY"] = "sk-test"
	environ["LENS_PROVIDER"] = "gemini"
	cfg = config.Default()
	cfg.ApplyEnv(withProvider(getenv, "openai"))
	if cfg.Provider.Name != "openai" || cfg.Provider.APIKey != "sk-test" {
		t.Errorf("Expected the flag to win with the openai key, got %+v", cfg.Provider)
	}
}
