package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisperServer_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		json.NewEncoder(w).Encode(map[string]any{
			"text":     " standup recording ",
			"language": "en",
			"segments": []map[string]any{
				{"start": 0.0, "end": 2.5, "text": " standup "},
				{"start": 2.5, "end": 5.0, "text": " recording "},
			},
		})
	}))
	defer srv.Close()

	ts, err := NewWhisperServer(srv.URL, "", 5*time.Second)
	require.NoError(t, err)

	result, err := ts.Transcribe(context.Background(), []byte("fake-wav"), "standup.wav")
	require.NoError(t, err)

	assert.Equal(t, "standup recording", result.Text)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "standup", result.Segments[0].Text)
	assert.InDelta(t, 2.5, result.Segments[0].End, 1e-9)
	assert.InDelta(t, 2.5, result.Segments[1].Start, 1e-9)
}

func TestWhisperServer_NoSegmentsFallsBackToUntimed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"text": "short clip"})
	}))
	defer srv.Close()

	ts, err := NewWhisperServer(srv.URL, "", time.Second)
	require.NoError(t, err)

	result, err := ts.Transcribe(context.Background(), []byte("x"), "clip.mp3")
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, "short clip", result.Segments[0].Text)
	assert.Zero(t, result.Segments[0].Start)
	assert.Zero(t, result.Segments[0].End)
}

func TestWhisperServer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ts, err := NewWhisperServer(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = ts.Transcribe(context.Background(), []byte("x"), "a.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewWhisperServer_RequiresEndpoint(t *testing.T) {
	_, err := NewWhisperServer("", "", time.Second)
	require.Error(t, err)
}
