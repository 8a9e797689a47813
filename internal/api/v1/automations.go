package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/domain"
)

type AutomationSummary struct {
	Name        string `json:"name" doc:"Task type used in the trigger path"`
	Label       string `json:"label" doc:"Human readable name"`
	Description string `json:"description,omitempty"`
}

type ListAutomationsOutput struct {
	Body []AutomationSummary
}

type TriggerAutomationInput struct {
	Type string `path:"type" doc:"Task type, e.g. bulk-matters"`
	Body struct {
		CDPURL       string         `json:"cdpUrl,omitempty" required:"false" doc:"Chrome DevTools endpoint of the browser to drive"`
		FormData     map[string]any `json:"formData,omitempty" doc:"Form fields for form-automation"`
		SelectedFirm string         `json:"selectedFirm,omitempty" doc:"Firm name for bulk-matter-upload"`
	}
}

type TriggerAutomationOutput struct {
	Body struct {
		Success   bool      `json:"success"`
		SessionID uuid.UUID `json:"sessionId"`
		Message   string    `json:"message"`
	}
}

func RegisterAutomationRoutes(api huma.API, svc AutomationService) {
	huma.Register(api, huma.Operation{
		OperationID: "list-automations",
		Method:      http.MethodGet,
		Path:        "/automations",
		Summary:     "List launchable automations",
		Tags:        []string{"Automations"},
	}, func(_ context.Context, _ *struct{}) (*ListAutomationsOutput, error) {
		defs := svc.Available()
		out := &ListAutomationsOutput{Body: make([]AutomationSummary, 0, len(defs))}
		for _, def := range defs {
			out.Body = append(out.Body, AutomationSummary{
				Name:        def.Name,
				Label:       def.Label,
				Description: def.Description,
			})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trigger-automation",
		Method:      http.MethodPost,
		Path:        "/automations/{type}",
		Summary:     "Start an automation and open its log session",
		Tags:        []string{"Automations"},
	}, func(ctx context.Context, input *TriggerAutomationInput) (*TriggerAutomationOutput, error) {
		params := automation.Params{
			CDPURL:       input.Body.CDPURL,
			SelectedFirm: input.Body.SelectedFirm,
		}
		if input.Body.FormData != nil {
			raw, err := json.Marshal(input.Body.FormData)
			if err != nil {
				return nil, huma.Error400BadRequest("formData is not valid JSON", err)
			}
			params.FormData = raw
		}

		id, err := svc.Trigger(ctx, input.Type, params)
		if err != nil {
			return nil, triggerError(input.Type, err)
		}

		out := &TriggerAutomationOutput{}
		out.Body.Success = true
		out.Body.SessionID = id
		out.Body.Message = startedMessage(svc, input.Type)
		return out, nil
	})
}

func triggerError(taskType string, err error) error {
	var verr *automation.ValidationError
	switch {
	case errors.As(err, &verr):
		return huma.Error400BadRequest(verr.Message)
	case errors.Is(err, automation.ErrUnknownTask):
		return huma.Error400BadRequest("unknown automation: " + taskType)
	case errors.Is(err, domain.ErrInvalidInput):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		return huma.Error503ServiceUnavailable("automation is not configured on this server")
	default:
		log.Error().Err(err).Str("task_type", taskType).Msg("api: trigger failed")
		return huma.Error500InternalServerError("failed to start automation", err)
	}
}

func startedMessage(svc AutomationService, taskType string) string {
	for _, def := range svc.Available() {
		if def.Name == taskType {
			return def.Label + " started"
		}
	}
	return "Automation started"
}
