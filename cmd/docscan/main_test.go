package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/common"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, common.LogConfig{Level: "warn", Format: "json"})
	l.Info("dropped")
	l.Warn("kept", "job_id", "j1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "j1", line["job_id"])

	buf.Reset()
	newLogger(&buf, common.LogConfig{Level: "bogus", Format: "text"}).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "process", "batch", "jobs", "export"} {
		assert.True(t, names[want], want)
	}

	sub := map[string]bool{}
	for _, c := range jobsCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["list"] && sub["delete"] && sub["prune"])
}
