package log

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Cleanup(func() { _ = Setup(Config{}) })

	require.NoError(t, Setup(Config{Level: "debug"}))
	assert.Equal(t, logrus.DebugLevel, NewLogger().GetLevel())

	require.NoError(t, Setup(Config{}))
	assert.Equal(t, logrus.WarnLevel, NewLogger().GetLevel())

	assert.Error(t, Setup(Config{Level: "loud"}))
}

func TestSetup_File(t *testing.T) {
	t.Cleanup(func() { _ = Setup(Config{}) })

	file := filepath.Join(t.TempDir(), "maskguard.log")
	require.NoError(t, Setup(Config{Level: "info", File: file}))

	Info(Fields{"faces": 2}, "frame processed")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "frame processed")
}

func TestRunID(t *testing.T) {
	ctx, id := WithNewRunID(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, WithRunID(ctx).Data[RunIDKey])

	assert.Equal(t, "unknown", WithRunID(context.Background()).Data[RunIDKey])
}
