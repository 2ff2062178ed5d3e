package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantsYAML = `
projects:
  - project_id: shop
    bot_token: ${SHOP_BOT_TOKEN}
    constants:
      support_url: https://shop.example/support
      bonus: 10
    defaults:
      first_name: friend
  - project_id: quiz
    bot_token: "456:quiz"
`

func TestLoadTenants(t *testing.T) {
	t.Setenv("SHOP_BOT_TOKEN", "123:shop")

	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tenantsYAML), 0o600))

	tenants, err := LoadTenants(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tenants.Len())

	shop, err := tenants.Tenant(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "123:shop", shop.BotToken)
	assert.Equal(t, "https://shop.example/support", shop.Constants["support_url"])
	assert.Equal(t, 10, shop.Constants["bonus"])
	assert.Equal(t, "friend", shop.Defaults["first_name"])

	quiz, err := tenants.Tenant(context.Background(), "quiz")
	require.NoError(t, err)
	assert.Equal(t, "456:quiz", quiz.BotToken)
	assert.NotNil(t, quiz.Constants)
}

func TestTenants_Unknown(t *testing.T) {
	tenants, err := NewTenants()
	require.NoError(t, err)

	_, err = tenants.Tenant(context.Background(), "nope")
	require.ErrorIs(t, err, protocol.ErrUnknownTenant)
}

func TestParseTenants_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "projects: ["},
		{name: "missing project id", yaml: "projects:\n  - bot_token: x\n"},
		{name: "duplicate project", yaml: "projects:\n  - project_id: a\n  - project_id: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTenants([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadTenants_MissingFile(t *testing.T) {
	_, err := LoadTenants(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
