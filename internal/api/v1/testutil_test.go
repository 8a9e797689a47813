package v1_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/docparse"
	"github.com/gosuda/taskrelay/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock AutomationService
// ---------------------------------------------------------------------------

type mockAutomationService struct {
	triggerFunc func(ctx context.Context, taskType string, params automation.Params) (uuid.UUID, error)
	sessionFunc func(id uuid.UUID) (domain.SessionInfo, error)
	defs        []automation.TaskDefinition
}

func (m *mockAutomationService) Trigger(ctx context.Context, taskType string, params automation.Params) (uuid.UUID, error) {
	return m.triggerFunc(ctx, taskType, params)
}

func (m *mockAutomationService) Session(id uuid.UUID) (domain.SessionInfo, error) {
	return m.sessionFunc(id)
}

func (m *mockAutomationService) Available() []automation.TaskDefinition {
	return m.defs
}

// ---------------------------------------------------------------------------
// Mock DocumentParser
// ---------------------------------------------------------------------------

type mockDocumentParser struct {
	parseFunc func(ctx context.Context, data []byte, mediaType string) (*docparse.Fields, error)
}

func (m *mockDocumentParser) Parse(ctx context.Context, data []byte, mediaType string) (*docparse.Fields, error) {
	return m.parseFunc(ctx, data, mediaType)
}

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}
