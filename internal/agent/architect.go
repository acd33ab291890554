package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/llm"
	"github.com/fyrsmithlabs/forged/internal/usage"
)

// Architect turns requirement text into an architecture plan.
type Architect struct {
	llm    llm.Client
	usage  *usage.Tracker
	logger *zap.Logger
}

// NewArchitect wires the architect to its collaborators.
func NewArchitect(client llm.Client, tracker *usage.Tracker, logger *zap.Logger) *Architect {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Architect{llm: client, usage: tracker, logger: logger}
}

// CreateArchitecture asks the backend for a plan. A backend failure is an
// error; a response that cannot be parsed into the required shape is not.
// The deterministic fallback plan is substituted instead, because every
// later stage depends on this one producing something usable.
func (a *Architect) CreateArchitecture(ctx context.Context, requirements string) (*Plan, error) {
	if requirements == "" {
		return nil, fmt.Errorf("architect: requirements text is empty")
	}

	completion, err := a.llm.Complete(ctx, architectPrompt(requirements))
	if err != nil {
		return nil, fmt.Errorf("architect: %w", err)
	}
	a.usage.Track(RoleArchitect, completion.Tokens)

	plan, err := ParsePlan(completion.Text)
	if err != nil {
		a.logger.Warn("architect response unparseable, substituting fallback plan",
			zap.Error(err))
		return FallbackPlan(), nil
	}

	a.logger.Info("architecture created",
		zap.Int("components", len(plan.Components)),
		zap.Int("files", len(plan.FilePlan)),
		zap.String("complexity", plan.Complexity))
	return plan, nil
}
