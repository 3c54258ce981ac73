package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/vellum/internal/config"
)

func TestConfigureWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vellum.json")

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })

	require.NoError(t, runConfigure(configureCmd, nil))

	_, err := os.Stat(path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Personas)
	assert.NotZero(t, cfg.Context.TokenBudget)
}

func TestConfigureHelp(t *testing.T) {
	out := execRoot(t, "configure", "--help")
	assert.Contains(t, out, "configuration")
}
