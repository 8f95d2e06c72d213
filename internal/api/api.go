// Package api is the client for the rooms and video catalog REST service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sharetube/watchparty/internal/domain"
	omitnilpointers "github.com/sharetube/watchparty/pkg/omit-nil-pointers"
)

var (
	ErrNotFound   = errors.New("resource not found")
	ErrUnexpected = errors.New("unexpected response")
)

// TokenFunc returns the bearer token to send, or "" for none.
type TokenFunc func(ctx context.Context) string

type Config struct {
	// BaseURL is the API root, e.g. https://example.com/api.
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenFunc
}

type Client struct {
	baseURL    string
	siteURL    string
	httpClient *http.Client
	token      TokenFunc
	logger     *slog.Logger
}

func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base.String(),
		siteURL:    base.Scheme + "://" + base.Host,
		httpClient: httpClient,
		token:      cfg.Token,
		logger:     logger,
	}, nil
}

// LibraryVideo is an entry of the server-hosted video catalog.
type LibraryVideo struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Duration  string `json:"duration,omitempty"`
}

// PlayURL is where the server streams a library video.
func (c *Client) PlayURL(title string) string {
	return c.baseURL + "/video/play/" + url.PathEscape(title)
}

// SiteURL resolves a path served by the site root, such as library thumbnails.
func (c *Client) SiteURL(path string) string {
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.siteURL + path
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	var room domain.Room
	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, &room); err != nil {
		return domain.Room{}, fmt.Errorf("failed to get room: %w", err)
	}
	if room.ID == "" {
		room.ID = roomID
	}

	return room, nil
}

// UpdateVideo records the room's now-playing video. An empty title is left out.
func (c *Client) UpdateVideo(ctx context.Context, roomID, videoURL, title string) error {
	body := omitnilpointers.OmitNilPointers(map[string]any{
		"currentVideoUrl":   omitnilpointers.NonEmpty(videoURL),
		"currentVideoTitle": omitnilpointers.NonEmpty(title),
	})

	if err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/update-video", body, nil); err != nil {
		return fmt.Errorf("failed to update room video: %w", err)
	}

	return nil
}

// DeleteRoom tells the server username left the room. For the owner this closes it.
func (c *Client) DeleteRoom(ctx context.Context, roomID, username string) error {
	body := map[string]string{"username": username}
	if err := c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomID), body, nil); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	return nil
}

func (c *Client) ListVideos(ctx context.Context) ([]LibraryVideo, error) {
	var videos []LibraryVideo
	if err := c.do(ctx, http.MethodGet, "/video/list", nil, &videos); err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	return videos, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := c.token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "api request", "method", method, "path", path, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUnexpected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
