// Package config loads the tenant (project) configuration file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// TenantsFile is the structure of tenants.yaml:
//
//	projects:
//	  - project_id: shop
//	    bot_token: ${SHOP_BOT_TOKEN}
//	    constants:
//	      support_url: https://shop.example/support
//	    defaults:
//	      first_name: friend
type TenantsFile struct {
	Projects []models.Tenant `yaml:"projects" validate:"dive"`
}

// Tenants resolves tenants from a loaded configuration file.
type Tenants struct {
	byProject map[string]models.Tenant
}

var ErrDuplicateProject = errors.New("duplicate project")

// LoadTenants reads path and expands ${VAR} references in bot tokens.
func LoadTenants(path string) (*Tenants, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file %s: %w", path, err)
	}

	return ParseTenants(data)
}

func ParseTenants(data []byte) (*Tenants, error) {
	var file TenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenants YAML: %w", err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid tenants file: %w", err)
	}

	return NewTenants(file.Projects...)
}

func NewTenants(tenants ...models.Tenant) (*Tenants, error) {
	byProject := make(map[string]models.Tenant, len(tenants))

	for _, tenant := range tenants {
		if _, exists := byProject[tenant.ProjectID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProject, tenant.ProjectID)
		}

		tenant.BotToken = os.ExpandEnv(tenant.BotToken)
		if tenant.Constants == nil {
			tenant.Constants = map[string]any{}
		}

		byProject[tenant.ProjectID] = tenant
	}

	return &Tenants{byProject: byProject}, nil
}

func (t *Tenants) Tenant(_ context.Context, projectID string) (models.Tenant, error) {
	tenant, ok := t.byProject[projectID]
	if !ok {
		return models.Tenant{}, fmt.Errorf("%w: %s", protocol.ErrUnknownTenant, projectID)
	}

	return tenant, nil
}

func (t *Tenants) Len() int {
	return len(t.byProject)
}
