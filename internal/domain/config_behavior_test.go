package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/doeshing/cadsmith/internal/domain"
)

// TestConfig_DefaultModel tests retrieving the default model
func TestConfig_DefaultModel(t *testing.T) {
	tests := []struct {
		name        string
		config      domain.Config
		wantError   bool
		wantModelID string
	}{
		{
			name: "returns default model successfully",
			config: domain.Config{
				Preferences: domain.Preferences{DefaultModel: "local"},
				Models: []domain.ModelDefinition{
					{Name: "local", ModelID: "llama-3.1-8b"},
					{Name: "claude", ModelID: "claude-sonnet"},
				},
			},
			wantModelID: "llama-3.1-8b",
		},
		{
			name: "returns error when default model not found",
			config: domain.Config{
				Preferences: domain.Preferences{DefaultModel: "nonexistent"},
				Models:      []domain.ModelDefinition{{Name: "local"}},
			},
			wantError: true,
		},
		{
			name: "returns error when no default model configured",
			config: domain.Config{
				Models: []domain.ModelDefinition{{Name: "local"}},
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := tt.config.DefaultModel()

			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if model.ModelID != tt.wantModelID {
				t.Errorf("got model ID %s, want %s", model.ModelID, tt.wantModelID)
			}
		})
	}
}

// TestConfig_SelectModel tests override handling
func TestConfig_SelectModel(t *testing.T) {
	config := domain.Config{
		Preferences: domain.Preferences{DefaultModel: "local"},
		Models:      []domain.ModelDefinition{{Name: "local"}, {Name: "offline"}},
	}

	tests := []struct {
		override  string
		wantName  string
		wantError bool
	}{
		{override: "", wantName: "local"},
		{override: "offline", wantName: "offline"},
		{override: "missing", wantError: true},
	}

	for _, tt := range tests {
		model, err := config.SelectModel(tt.override)
		if tt.wantError {
			if !errors.Is(err, domain.ErrModelNotFound) {
				t.Errorf("SelectModel(%q): error = %v, want ErrModelNotFound", tt.override, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("SelectModel(%q): unexpected error: %v", tt.override, err)
			continue
		}
		if model.Name != tt.wantName {
			t.Errorf("SelectModel(%q) = %s, want %s", tt.override, model.Name, tt.wantName)
		}
	}
}

// TestConfig_ValidateConsistency tests configuration consistency validation
func TestConfig_ValidateConsistency(t *testing.T) {
	tests := []struct {
		name      string
		config    domain.Config
		wantError bool
	}{
		{
			name: "valid configuration",
			config: domain.Config{
				Preferences: domain.Preferences{DefaultModel: "local"},
				Models:      []domain.ModelDefinition{{Name: "local"}, {Name: "claude"}},
			},
		},
		{
			name: "invalid: default model doesn't exist",
			config: domain.Config{
				Preferences: domain.Preferences{DefaultModel: "nonexistent"},
				Models:      []domain.ModelDefinition{{Name: "local"}},
			},
			wantError: true,
		},
		{
			name: "invalid: model declared twice",
			config: domain.Config{
				Models: []domain.ModelDefinition{{Name: "local"}, {Name: "local"}},
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.ValidateConsistency()
			if tt.wantError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestConfig_Defaults tests the fallbacks applied to zero values
func TestConfig_Defaults(t *testing.T) {
	var config domain.Config

	if got := config.MaxAttempts(); got != domain.DefaultMaxAttempts {
		t.Errorf("MaxAttempts() = %d, want %d", got, domain.DefaultMaxAttempts)
	}
	if got := config.FeedbackHistory(); got != 1 {
		t.Errorf("FeedbackHistory() = %d, want 1", got)
	}
	if !config.ExportRequired() {
		t.Error("ExportRequired() should default to true")
	}
	if got := config.KernelName(); got != domain.KernelCSG {
		t.Errorf("KernelName() = %s, want %s", got, domain.KernelCSG)
	}
	if got := config.Timeout(); got != domain.DefaultTimeoutSeconds*time.Second {
		t.Errorf("Timeout() = %s", got)
	}
	stops := config.StopSequences()
	if len(stops) != 2 || stops[0] != "User:" || stops[1] != "\n\n" {
		t.Errorf("StopSequences() = %q", stops)
	}
	stops[0] = "mutated"
	if domain.DefaultStopSequences[0] != "User:" {
		t.Error("StopSequences() must not alias the package default")
	}
}

// TestConfig_ExplicitValues tests that configured values win over defaults
func TestConfig_ExplicitValues(t *testing.T) {
	off := false
	config := domain.Config{
		Generation: domain.GenerationSettings{MaxAttempts: 5, MaxTokens: 200, FeedbackHistory: 3},
		Validation: domain.ValidationSettings{RequireExport: &off},
		Geometry:   domain.GeometrySettings{Kernel: domain.KernelCadQuery},
	}

	if config.MaxAttempts() != 5 {
		t.Errorf("MaxAttempts() = %d", config.MaxAttempts())
	}
	if config.FeedbackHistory() != 3 {
		t.Errorf("FeedbackHistory() = %d", config.FeedbackHistory())
	}
	if config.ExportRequired() {
		t.Error("ExportRequired() should honour require_export: false")
	}
	if got := config.MaxTokensFor(domain.ModelDefinition{}); got != 200 {
		t.Errorf("MaxTokensFor(no limit) = %d, want 200", got)
	}
	if got := config.MaxTokensFor(domain.ModelDefinition{MaxTokens: 64}); got != 64 {
		t.Errorf("MaxTokensFor(model limit) = %d, want 64", got)
	}
}

// TestConfig_AttemptsFor tests that requested attempt counts are clamped
func TestConfig_AttemptsFor(t *testing.T) {
	tests := []struct {
		name      string
		gen       domain.GenerationSettings
		requested int
		want      int
	}{
		{name: "zero uses default", requested: 0, want: domain.DefaultMaxAttempts},
		{name: "negative uses default", requested: -3, want: domain.DefaultMaxAttempts},
		{name: "within limit", requested: 4, want: 4},
		{name: "above default limit", requested: 5000, want: domain.DefaultMaxAttemptsLimit},
		{name: "configured limit", gen: domain.GenerationSettings{MaxAttemptsLimit: 3}, requested: 7, want: 3},
		{name: "limit never below max_attempts", gen: domain.GenerationSettings{MaxAttempts: 12, MaxAttemptsLimit: 3}, requested: 50, want: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := domain.Config{Generation: tt.gen}
			if got := config.AttemptsFor(tt.requested); got != tt.want {
				t.Errorf("AttemptsFor(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}

func TestHealthReport_Status(t *testing.T) {
	report := domain.HealthReport{Checks: []domain.HealthCheck{
		{Name: "config", Status: domain.HealthOK},
		{Name: "cache", Status: domain.HealthWarn},
	}}
	if report.Status() != domain.HealthWarn {
		t.Errorf("Status() = %s, want warn", report.Status())
	}
	report.Checks = append(report.Checks, domain.HealthCheck{Name: "model", Status: domain.HealthError})
	if report.Status() != domain.HealthError {
		t.Errorf("Status() = %s, want error", report.Status())
	}
}
