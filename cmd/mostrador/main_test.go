package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsExitCodes(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	require.Equal(t, 1, run([]string{"serve"}))

	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
	require.Equal(t, 2, run([]string{"vender"}))
	require.Equal(t, 1, run([]string{"remind"}))
}
