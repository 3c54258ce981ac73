package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommandRegistered(t *testing.T) {
	var statusCmd bool
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == "status" {
			statusCmd = true
		}
	}
	require.True(t, statusCmd, "status command should exist")

	out := execRoot(t, "status", "--help")
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "daemon")
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                             "0s",
		400 * time.Millisecond:        "0s",
		12 * time.Second:              "12s",
		5*time.Minute + 7*time.Second: "5m7s",
		26*time.Hour + 3*time.Minute + time.Second: "26h3m1s",
	}

	for d, want := range cases {
		assert.Equal(t, want, formatDuration(d), "formatDuration(%v)", d)
	}
}
