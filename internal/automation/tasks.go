package automation

import (
	"bytes"
	"strings"
)

// Built-in task type names.
const (
	TaskFormAutomation   = "form-automation"
	TaskBulkMatters      = "bulk-matters"
	TaskBulkMatterUpload = "bulk-matter-upload"
	TaskTestBrowser      = "test-browser"
)

// RegisterBuiltins adds the stock browser automations to r.
func RegisterBuiltins(r *Registry) {
	for _, def := range builtinTasks() {
		r.Register(def)
	}
}

func builtinTasks() []TaskDefinition {
	return []TaskDefinition{
		{
			Name:        TaskFormAutomation,
			Label:       "Automation",
			Description: "Fill an intake form in the connected browser.",
			Script:      "form_automation.py",
			Args: func(p Params, _ Credentials) ([]string, error) {
				if err := requireCDP(p); err != nil {
					return nil, err
				}
				data := bytes.TrimSpace(p.FormData)
				if len(data) == 0 || bytes.Equal(data, []byte("null")) {
					return nil, &ValidationError{Field: "formData", Message: "Form data is required"}
				}
				return []string{p.CDPURL, string(data)}, nil
			},
		},
		{
			Name:        TaskBulkMatters,
			Label:       "Bulk matters automation",
			Description: "Walk the bulk matters page in the connected browser.",
			Script:      "bulk_matters.py",
			Args: func(p Params, _ Credentials) ([]string, error) {
				if err := requireCDP(p); err != nil {
					return nil, err
				}
				return []string{p.CDPURL}, nil
			},
			Intro: func(Params) []string {
				return []string{"Starting bulk matters automation..."}
			},
		},
		{
			Name:        TaskBulkMatterUpload,
			Label:       "Firm selection automation",
			Description: "Upload matters for the selected law firm.",
			Script:      "bulk_matter_upload.py",
			Args: func(p Params, _ Credentials) ([]string, error) {
				if err := requireCDP(p); err != nil {
					return nil, err
				}
				if strings.TrimSpace(p.SelectedFirm) == "" {
					return nil, &ValidationError{
						Field:   "selectedFirm",
						Message: "Selected firm is required. Please select a law firm from the dropdown.",
					}
				}
				return []string{p.CDPURL, p.SelectedFirm}, nil
			},
			Intro: func(p Params) []string {
				return []string{
					"Starting automation for firm: " + p.SelectedFirm,
					"Connecting to browser at: " + p.CDPURL,
				}
			},
		},
		{
			Name:        TaskTestBrowser,
			Label:       "Test",
			Description: "Log in to Lawmatics to check the browser connection.",
			Script:      "playwright_controller.py",
			Args: func(p Params, creds Credentials) ([]string, error) {
				if err := requireCDP(p); err != nil {
					return nil, err
				}
				if creds.LawmaticsPassword == "" {
					return nil, ErrMissingCredential
				}
				return []string{p.CDPURL, creds.LawmaticsPassword}, nil
			},
			Intro: func(Params) []string {
				return []string{"Starting browser automation..."}
			},
		},
	}
}

func requireCDP(p Params) error {
	if strings.TrimSpace(p.CDPURL) == "" {
		return &ValidationError{Field: "cdpUrl", Message: "CDP URL is required"}
	}
	return nil
}
