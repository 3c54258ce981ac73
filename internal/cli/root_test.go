package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRoot runs the root command with args and returns captured output.
func execRoot(t *testing.T, args ...string) string {
	t.Helper()

	cmd := GetRootCmd()
	cmd.SetArgs(args)

	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestVersionFlag(t *testing.T) {
	out := execRoot(t, "--version")
	assert.Contains(t, out, "vellum version")
	assert.Contains(t, out, GetVersion())
}

func TestHelpDescribesAssistant(t *testing.T) {
	out := execRoot(t, "--help")
	assert.Contains(t, out, "Vellum")
	assert.Contains(t, out, "manuscript")

	for _, sub := range []string{"start", "stop", "status", "configure"} {
		assert.Contains(t, out, sub)
	}
}

func TestGlobalFlagDefaults(t *testing.T) {
	flags := GetRootCmd().PersistentFlags()

	configFlag := flags.Lookup("config")
	require.NotNil(t, configFlag)
	assert.Empty(t, configFlag.DefValue)

	levelFlag := flags.Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "info", levelFlag.DefValue)
}

func TestGetVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(GetVersion(), "0."))
}
