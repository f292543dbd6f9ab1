package prompt

import (
	"math"
	"strings"

	"github.com/tripwise/relay/internal/models"
)

// Limits on structured itinerary requests
const (
	MinDays = 1
	MaxDays = 30
)

// ValidationError carries the client-facing message for rejected input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Builder turns caller input into a two-message completion request with a
// fixed system message and fixed generation parameters.
type Builder struct {
	name     string
	system   string
	params   models.GenerationParams
	validate func(in models.PlanRequest) error
	render   func(in models.PlanRequest) string
}

// Name identifies the variant in logs
func (b *Builder) Name() string {
	return b.name
}

// System returns the variant's system message
func (b *Builder) System() string {
	return b.system
}

// Params returns the variant's generation parameters
func (b *Builder) Params() models.GenerationParams {
	return b.params
}

// Validate rejects input whose required fields are blank or out of range.
// It never modifies the input.
func (b *Builder) Validate(in models.PlanRequest) error {
	return b.validate(in)
}

// Build validates in and returns the completion request. The system message
// is always first.
func (b *Builder) Build(in models.PlanRequest) (*models.CompletionRequest, error) {
	if err := b.Validate(in); err != nil {
		return nil, err
	}

	return &models.CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: b.system},
			{Role: models.RoleUser, Content: b.render(in)},
		},
		MaxTokens:   b.params.MaxTokens,
		Temperature: b.params.Temperature,
	}, nil
}

func requirePrompt(in models.PlanRequest) error {
	if strings.TrimSpace(in.Prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "Prompt is required"}
	}
	return nil
}

func requireDestination(in models.PlanRequest) error {
	if strings.TrimSpace(in.Destination) == "" {
		return &ValidationError{Field: "destination", Message: "Destination is required"}
	}
	if in.Days != math.Trunc(in.Days) || in.Days < MinDays || in.Days > MaxDays {
		return &ValidationError{Field: "days", Message: "Days must be between 1 and 30"}
	}
	return nil
}

func rawPrompt(in models.PlanRequest) string {
	return in.Prompt
}
