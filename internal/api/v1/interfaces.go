package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/docparse"
	"github.com/gosuda/taskrelay/internal/domain"
)

// AutomationService abstracts session triggering for handler testing.
// *automation.Orchestrator satisfies this interface.
type AutomationService interface {
	Trigger(ctx context.Context, taskType string, params automation.Params) (uuid.UUID, error)
	Session(id uuid.UUID) (domain.SessionInfo, error)
	Available() []automation.TaskDefinition
}

// DocumentParser abstracts document field extraction.
// *docparse.Parser satisfies this interface.
type DocumentParser interface {
	Parse(ctx context.Context, data []byte, mediaType string) (*docparse.Fields, error)
}
