package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVsRedactsSecretsAndPatientFields(t *testing.T) {
	t.Parallel()

	out := sanitizeKVs([]interface{}{
		"api_key", "sk-123",
		"Patient_Name", "Kim",
		"record_id", "r-1",
		"header", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig",
		"dangling",
	})

	require.Len(t, out, 9)
	assert.Equal(t, "[REDACTED]", out[1])
	assert.Equal(t, "[REDACTED]", out[3])
	assert.Equal(t, "r-1", out[5])
	assert.Equal(t, "[REDACTED]", out[7])
	assert.Equal(t, "dangling", out[8])
}

func TestWithCarriesSanitizedFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	log := (&Logger{SugaredLogger: zap.New(core).Sugar()}).With("password", "hunter2")
	log.Info("signed in", "user_id", "u-1")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["password"])
	assert.Equal(t, "u-1", fields["user_id"])
}

func TestNewAcceptsModes(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"dev", "prod", ""} {
		log, err := New(mode)
		require.NoError(t, err)
		require.NotNil(t, log.SugaredLogger)
	}
}
