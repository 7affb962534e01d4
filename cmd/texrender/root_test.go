package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/texrender"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "texrender version "+texrender.Version+"\n", out)
}

func TestLink(t *testing.T) {
	t.Setenv("TEXRENDER_SIGNED_KEY", "k")
	t.Setenv("TEXRENDER_SIGNED_PUBLIC_ORIGIN", "https://rtex.example")

	out, err := execute(t, "link", "--env-file", "", "x")
	require.NoError(t, err)
	assert.Contains(t, out, "https://rtex.example/render/")
	assert.Contains(t, out, "mode: fast")
}

func TestLink_RequiresKey(t *testing.T) {
	t.Setenv("TEXRENDER_SIGNED_KEY", "")
	t.Setenv("TEXRENDER_SIGNED_PUBLIC_ORIGIN", "")

	_, err := execute(t, "link", "--env-file", "", "x")
	assert.Error(t, err)
}
