package suggest

import (
	"time"

	"github.com/google/uuid"
)

// Suggestion type labels matching the suggestions table CHECK constraint.
const (
	TypeWorkflow       = "workflow"
	TypeOptimization   = "optimization"
	TypeAlert          = "alert"
	TypeRecommendation = "recommendation"
)

// Priority levels, lowest to highest.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Review lifecycle statuses. New suggestions start pending; the others are
// set through UpdateStatus.
const (
	StatusPending     = "pending"
	StatusAccepted    = "accepted"
	StatusRejected    = "rejected"
	StatusImplemented = "implemented"
)

// Generation bounds.
const (
	DefaultMaxSuggestions = 5
	MaxSuggestionsLimit   = 20
	DefaultMinConfidence  = 0.5
)

// Suggestion is one AI-proposed action awaiting user review.
type Suggestion struct {
	ID          uuid.UUID
	Type        string
	Title       string
	Description string
	Priority    string
	Status      string
	Confidence  float64
	Context     map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Request configures one Generate call.
type Request struct {
	// Context is the operational snapshot the model reasons over. Required.
	Context map[string]any

	// Types restricts generation to the given suggestion types. Empty
	// means all types.
	Types []string

	// MaxSuggestions caps the stored batch, in [1, MaxSuggestionsLimit].
	// Zero means DefaultMaxSuggestions.
	MaxSuggestions int

	// MinConfidence drops proposals the model is less sure about, in
	// [0, 1]. Nil means DefaultMinConfidence.
	MinConfidence *float64
}

func allTypes() []string {
	return []string{TypeWorkflow, TypeOptimization, TypeAlert, TypeRecommendation}
}

func validType(t string) bool {
	switch t {
	case TypeWorkflow, TypeOptimization, TypeAlert, TypeRecommendation:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusImplemented:
		return true
	}
	return false
}
