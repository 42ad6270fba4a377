package domain

import "time"

// Outcome classifies how a generation run ended.
type Outcome string

const (
	// OutcomeSuccess means a valid program ran and exported an artifact.
	OutcomeSuccess Outcome = "success"
	// OutcomeNoArtifact means a valid program ran but never exported.
	OutcomeNoArtifact Outcome = "no_artifact"
	// OutcomeExhausted means every attempt failed validation.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeError means the generator or the kernel failed.
	OutcomeError Outcome = "error"
)

// GenerationRequest captures one natural-language part request.
type GenerationRequest struct {
	// RunID is assigned when empty. Callers that key storage by run set it
	// up front.
	RunID         string
	Prompt        string
	MaxAttempts   int
	OutputDir     string
	ModelOverride string
	NoCache       bool
}

// Attempt records one round trip through the generator and the validator.
type Attempt struct {
	Number   int      `json:"number"`
	Prompt   string   `json:"prompt"`
	DSL      string   `json:"dsl"`
	Valid    bool     `json:"valid"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
	Dropped  []string `json:"dropped,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// GenerationResult is what the generate use case hands back to its callers.
type GenerationResult struct {
	RunID        string        `json:"run_id"`
	Prompt       string        `json:"prompt"`
	Model        string        `json:"model"`
	Outcome      Outcome       `json:"outcome"`
	ArtifactPath string        `json:"path,omitempty"`
	Attempts     []Attempt     `json:"attempts"`
	FromCache    bool          `json:"from_cache"`
	Duration     time.Duration `json:"duration_ns"`
}

// LastAttempt returns the final attempt, if any.
func (r GenerationResult) LastAttempt() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// Succeeded reports whether the run produced a valid program.
func (r GenerationResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeNoArtifact
}
