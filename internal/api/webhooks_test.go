package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/session"
)

func TestSessionLoggerAcksWellFormedEvents(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.doJSON(t, http.MethodPost, "/webhook/session-logger", map[string]any{
		"action_type": "session_start",
		"session_id":  "s1",
		"agent_type":  "claude-code",
		"user_id":     "dev",
		"project":     "demo",
		"context":     map[string]any{"cwd": "/work"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ack session.SessionAck
	decode(t, rec, &ack)
	assert.True(t, ack.Success)
	assert.Equal(t, "s1", ack.SessionID)
	assert.Equal(t, "session_start", ack.Action)

	require.Len(t, rig.sess.sessionEvents, 1)
	ev := rig.sess.sessionEvents[0]
	assert.Equal(t, "demo", ev.Project)
	assert.Equal(t, map[string]any{"cwd": "/work"}, ev.Context)
}

func TestSessionLoggerMalformedBody(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.doRaw(http.MethodPost, "/webhook/session-logger", "application/json",
		bytes.NewReader([]byte(`{"action_type": "session_start",`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "validation", body.Error)
	assert.NotEmpty(t, body.Detail)
	assert.Empty(t, rig.sess.sessionEvents)
}

func TestActionTrackerAcksUnknownSession(t *testing.T) {
	rig := newAPIRig(t)

	// The intake layer creates placeholder sessions, so an unknown
	// session id still gets a 200.
	rec := rig.doJSON(t, http.MethodPost, "/webhook/action-tracker", map[string]any{
		"session_id":     "never-started",
		"action_type":    "file_edit",
		"description":    "edited main.go",
		"files_affected": []string{"main.go"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ack session.ActionAck
	decode(t, rec, &ack)
	assert.True(t, ack.Success)
	assert.Equal(t, "never-started", ack.SessionID)

	require.Len(t, rig.sess.actionEvents, 1)
	assert.Equal(t, []string{"main.go"}, rig.sess.actionEvents[0].FilesAffected)
}

func TestActionTrackerMalformedBody(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.doRaw(http.MethodPost, "/webhook/action-tracker", "application/json",
		bytes.NewReader([]byte(`not json`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rig.sess.actionEvents)
}

func TestActionTrackerSuccessFieldPassesThrough(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.doJSON(t, http.MethodPost, "/webhook/action-tracker", map[string]any{
		"session_id":  "s1",
		"action_type": "command",
		"description": "go test failed",
		"success":     false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, rig.sess.actionEvents, 1)
	ev := rig.sess.actionEvents[0]
	require.NotNil(t, ev.Success)
	assert.False(t, *ev.Success)
}
