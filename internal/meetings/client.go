package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrMeetingNotFound indicates the directory service has no such meeting.
var ErrMeetingNotFound = errors.New("meeting not found")

// Client wraps the meetings directory HTTP API. Lookups are cached with a
// TTL so a burst of joins into the same meeting hits the directory once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      map[string]*cachedMeeting
	cacheTTL   time.Duration
	mu         sync.RWMutex
}

type cachedMeeting struct {
	meeting   *Meeting
	expiresAt time.Time
}

// Meeting is the directory's record of one scheduled meeting.
type Meeting struct {
	ID               string    `json:"id"`
	InviteCode       string    `json:"inviteCode"`
	HostID           string    `json:"hostId"`
	MaxParticipants  int       `json:"maxParticipants"`
	RecordingEnabled bool      `json:"recordingEnabled"`
	Status           string    `json:"status"` // "scheduled", "active", "ended"
	CreatedAt        time.Time `json:"createdAt"`
}

// meetingResponse is the API response wrapper.
type meetingResponse struct {
	Success bool     `json:"success"`
	Data    *Meeting `json:"data"`
	Error   string   `json:"error,omitempty"`
}

// NewClient creates a meetings directory client.
func NewClient(baseURL string, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:    make(map[string]*cachedMeeting),
		cacheTTL: cacheTTL,
	}
}

// GetMeeting retrieves meeting information by ID.
func (c *Client) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	if m := c.getFromCache(meetingID); m != nil {
		return m, nil
	}

	url := fmt.Sprintf("%s/api/v1/meetings/%s", c.baseURL, meetingID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrMeetingNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meetings service returned status: %d", resp.StatusCode)
	}

	var mr meetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !mr.Success || mr.Data == nil {
		return nil, fmt.Errorf("meetings service error: %s", mr.Error)
	}

	c.addToCache(meetingID, mr.Data)

	return mr.Data, nil
}

// InvalidateCache removes a meeting from the cache.
func (c *Client) InvalidateCache(meetingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, meetingID)
}

func (c *Client) getFromCache(meetingID string) *Meeting {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.cache[meetingID]; ok {
		if time.Now().Before(cached.expiresAt) {
			return cached.meeting
		}
	}
	return nil
}

func (c *Client) addToCache(meetingID string, m *Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[meetingID] = &cachedMeeting{
		meeting:   m,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}
