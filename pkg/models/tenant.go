package models

// Tenant is the per-project context handed to collaborators instead of a process-wide bot table.
type Tenant struct {
	ProjectID string         `json:"project_id" yaml:"project_id" validate:"required"`
	BotToken  string         `json:"-"          yaml:"bot_token"`
	Constants map[string]any `json:"constants"  yaml:"constants"`

	// Defaults back every template of the project when neither the execution nor the flow knows a path.
	Defaults map[string]any `json:"defaults" yaml:"defaults"`
}
