package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	// Test with file:// prefix
	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Conformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, NewPersistence(dir).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(dir, "missing")).HealthCheck(t.Context()))
}

func TestExecutionRepository_WritesUnderExecutionsDir(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	state, _, err := p.ExecutionRepository().Create(t.Context(), models.NewExecution{FlowID: "f", EntryNodeID: "start"})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "executions", state.ID+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())
}

func TestExecutionRepository_RejectsPathTraversal(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, _, err := p.ExecutionRepository().Load(t.Context(), "../etc/passwd")
	assert.ErrorIs(t, err, persistence.ErrInvalidID)

	_, err = p.FlowRepository().Version(t.Context(), "a/b", 1)
	assert.ErrorIs(t, err, persistence.ErrInvalidID)
}
