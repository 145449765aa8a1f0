package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsAreWrittenAsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := l.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = WithFields(ctx, Fields{FieldImportRunID: "run-1"})
	CtxInfo(ctx, "chunk %d done", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "chunk 3 done", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "run-1", line["import_run_id"])
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
	assert.Equal(t, "", GetRequestID(context.Background()))
}
