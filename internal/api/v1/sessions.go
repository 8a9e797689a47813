package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/domain"
)

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body domain.SessionInfo
}

func RegisterSessionRoutes(api huma.API, svc AutomationService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session's state and record count",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		info, err := svc.Session(input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}
		return &GetSessionOutput{Body: info}, nil
	})
}
