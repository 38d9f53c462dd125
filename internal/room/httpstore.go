package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStore talks to the room API exposed by `huddle serve`.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore returns a store for the server at baseURL. A nil client
// gets a 10 second timeout.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type roomResponse struct {
	Room  *Room  `json:"room"`
	Error string `json:"error"`
}

// Create builds and persists a room from options in one call.
func (s *HTTPStore) Create(ctx context.Context, opts CreateOptions) (*Room, error) {
	return s.do(ctx, http.MethodPost, "/api/rooms", opts)
}

// CreateRoom persists an already validated room record.
func (s *HTTPStore) CreateRoom(ctx context.Context, r *Room) (*Room, error) {
	return s.Create(ctx, CreateOptions{
		Name:      r.Name,
		Transport: r.Transport,
		Capacity:  r.Capacity,
		CreatedBy: r.CreatedBy,
	})
}

func (s *HTTPStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	return s.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(id), nil)
}

func (s *HTTPStore) UpdateRoomStatus(ctx context.Context, id string, to Status) (*Room, error) {
	return s.do(ctx, http.MethodPatch, "/api/rooms/"+url.PathEscape(id)+"/status", map[string]Status{"status": to})
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body any) (*Room, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var out roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRoomNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, out.Error)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoom, out.Error)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s %s: %s (%d)", method, path, out.Error, resp.StatusCode)
	case out.Room == nil:
		return nil, fmt.Errorf("%s %s: empty response", method, path)
	}
	return out.Room, nil
}
