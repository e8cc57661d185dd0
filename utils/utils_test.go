package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSONLogger(t *testing.T) {
	defer InitLogger(false, true)

	var buf bytes.Buffer
	require.NoError(t, Configure("debug", "json", &buf))
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	log := Component("signer")
	log.Info().Str("txid", "ABC").Msg("signed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "signer", line["component"])
	assert.Equal(t, "ABC", line["txid"])
	assert.Equal(t, "info", line["level"])

	buf.Reset()
	require.NoError(t, Configure("warn", "json", &buf))
	l := GetLogger()
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
	LogWarn("kept %d", 2)
	assert.Contains(t, buf.String(), "kept 2")

	assert.Error(t, Configure("loud", "json", &buf))
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, GetRequestIDFromContext(ctx))

	same, again := EnsureRequestID(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)

	assert.Equal(t, "", GetRequestIDFromContext(nil))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
