package meetings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectoryServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/meetings/meeting-1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(meetingResponse{
			Success: true,
			Data: &Meeting{
				ID:              "meeting-1",
				InviteCode:      "abc123",
				HostID:          "user-7",
				MaxParticipants: 10,
				Status:          "active",
			},
		})
	})
	mux.HandleFunc("/api/v1/meetings/broken", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(meetingResponse{Success: false, Error: "database down"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetMeeting(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, &hits)
	c := NewClient(srv.URL, time.Minute)

	m, err := c.GetMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, "meeting-1", m.ID)
	assert.Equal(t, "abc123", m.InviteCode)
	assert.Equal(t, "active", m.Status)
	assert.Equal(t, int64(1), hits.Load())
}

func TestGetMeetingCaches(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, &hits)
	c := NewClient(srv.URL, time.Minute)

	_, err := c.GetMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	_, err = c.GetMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "second lookup must come from cache")

	c.InvalidateCache("meeting-1")
	_, err = c.GetMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestGetMeetingExpiredCache(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, &hits)
	c := NewClient(srv.URL, -time.Second)

	_, err := c.GetMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	_, err = c.GetMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestGetMeetingNotFound(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, &hits)
	c := NewClient(srv.URL, time.Minute)

	_, err := c.GetMeeting(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMeetingNotFound)
}

func TestGetMeetingServiceError(t *testing.T) {
	var hits atomic.Int64
	srv := newDirectoryServer(t, &hits)
	c := NewClient(srv.URL, time.Minute)

	_, err := c.GetMeeting(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
}
