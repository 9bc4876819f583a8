package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactCore_HidesSensitiveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(redactCore{core}).With(zap.String("master_key", "abc"))

	l.Info("push", zap.String("client_secret", "s3cr3t"), KID("k1"))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, redacted, ctx["client_secret"])
	require.Equal(t, redacted, ctx["master_key"])
	require.Equal(t, "k1", ctx["kid"])
}

func TestRedact_NoSensitiveFieldsReturnsSameSlice(t *testing.T) {
	in := []zapcore.Field{KID("k1"), Op("pull")}
	out := redact(in)
	require.Equal(t, in, out)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("nope"))
}
