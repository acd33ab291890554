package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/llm"
	"github.com/fyrsmithlabs/forged/internal/usage"
)

// EntryPoint is the canonical entry-point filename for generated code.
const EntryPoint = "main.py"

// Coder turns an architecture plan into a code package.
type Coder struct {
	llm    llm.Client
	usage  *usage.Tracker
	logger *zap.Logger
}

// NewCoder wires the coder to its collaborators.
func NewCoder(client llm.Client, tracker *usage.Tracker, logger *zap.Logger) *Coder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coder{llm: client, usage: tracker, logger: logger}
}

// GenerateCode implements the plan. The resulting package always contains
// the entry point; a response without one is an error rather than a package
// the tester could never run.
func (c *Coder) GenerateCode(ctx context.Context, plan *Plan) (*CodePackage, error) {
	if plan == nil || len(plan.FilePlan) == 0 {
		return nil, fmt.Errorf("coder: architectural plan is empty")
	}

	completion, err := c.llm.Complete(ctx, coderPrompt(plan))
	if err != nil {
		return nil, fmt.Errorf("coder: %w", err)
	}
	c.usage.Track(RoleCoder, completion.Tokens)

	files, err := ParseFiles(completion.Text)
	if err != nil {
		return nil, fmt.Errorf("coder: parsing generated code: %w", err)
	}
	if _, ok := files[EntryPoint]; !ok {
		// A single unlabeled file is taken to be the entry point; anything
		// else means the backend ignored the file plan.
		if len(files) == 1 {
			for name, content := range files {
				delete(files, name)
				files[EntryPoint] = content
			}
		} else {
			return nil, fmt.Errorf("coder: response has no %s among %d files", EntryPoint, len(files))
		}
	}

	pkg := &CodePackage{
		Files:       files,
		WorkspaceID: uuid.New().String(),
		EntryPoint:  EntryPoint,
		Plan:        plan,
	}
	c.logger.Info("code generated",
		zap.String("workspace", pkg.WorkspaceID),
		zap.Strings("files", pkg.FileNames()))
	return pkg, nil
}
