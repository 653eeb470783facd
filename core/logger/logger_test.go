package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("debug", "json", &buf)
	t.Cleanup(func() { Init("info", "json") })

	Info("Scheduler:Poll:Done", "connection_id", "c-1", "pages", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Scheduler:Poll:Done", line["message"])
	assert.Equal(t, "c-1", line["connection_id"])
	assert.EqualValues(t, 2, line["pages"])
	assert.Equal(t, "info", line["level"])
}

func TestBareErrorAndOddArgs(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("debug", "json", &buf)
	t.Cleanup(func() { Init("info", "json") })

	Error("Repository:Upsert", errors.New("boom"), "dangling")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "dangling", line["arg1"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("warn", "json", &buf)
	t.Cleanup(func() { Init("info", "json") })

	Info("hidden")
	assert.Zero(t, buf.Len())
}
