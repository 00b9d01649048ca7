// Package pipeline imports a statement file as a set of statement drafts.
//
// The import runs as a sequence of steps sharing one PipelineState:
// fetch, parse, resolve account, group, create drafts and classify.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/grouping"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	OwnerID  string
	FileName string

	// GCSURI is set when the statement is read from object storage; Data is then filled by the fetch step.
	GCSURI string
	Data   []byte

	Parsed        *domain.ParsedStatement
	Account       *domain.Account
	Groups        []grouping.MovementGroup
	SplitInfo     domain.ImportSplitInfo
	UploadGroupID string
	Drafts        []*domain.StatementDraft
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Dependencies are the collaborators of the standard import pipeline.
type Dependencies struct {
	Storage    StatementFetcher
	Parser     StatementParser
	Accounts   AccountFinder
	Drafts     DraftCreator
	Classifier DraftClassifier
	Settings   domain.SplitSettings
	Now        func() time.Time
}

// NewImportPipeline creates the standard six-step import pipeline.
func NewImportPipeline(deps Dependencies) *Pipeline {
	return NewPipeline(
		&FetchStatementStep{Storage: deps.Storage},
		&ParseStatementStep{Parser: deps.Parser},
		&ResolveAccountStep{Accounts: deps.Accounts},
		&GroupMovementsStep{Settings: deps.Settings},
		&CreateDraftsStep{Drafts: deps.Drafts, Now: deps.Now},
		&ClassifyDraftsStep{Classifier: deps.Classifier},
	)
}
