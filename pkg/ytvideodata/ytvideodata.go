// Package ytvideodata looks up YouTube video metadata through oEmbed, the video
// page itself and the Data API.
package ytvideodata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoNotEmbeddable = errors.New("video is not embeddable")
	ErrNoAPIKey           = errors.New("youtube api key not configured")
)

const (
	defaultAPIBase    = "https://www.googleapis.com/youtube/v3"
	defaultOEmbedBase = "https://www.youtube.com/oembed"
	defaultPageBase   = "https://youtu.be"
)

type VideoData struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type Client struct {
	httpClient *http.Client
	apiKey     string
	apiBase    string
	oembedBase string
	pageBase   string
}

type Option func(*Client)

// WithBaseURLs points the client at other hosts, for tests.
func WithBaseURLs(api, oembed, page string) Option {
	return func(c *Client) {
		c.apiBase = api
		c.oembedBase = oembed
		c.pageBase = page
	}
}

func New(apiKey string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		apiBase:    defaultAPIBase,
		oembedBase: defaultOEmbedBase,
		pageBase:   defaultPageBase,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func WatchURL(videoId string) string {
	return "https://www.youtube.com/watch?v=" + videoId
}

// Get returns basic metadata without an API key. Videos that refuse embedding
// are read from their page instead.
func (c *Client) Get(ctx context.Context, videoId string) (*VideoData, error) {
	videoData, err := c.getVideoWithEmbed(ctx, videoId)
	if err != nil {
		if !errors.Is(err, ErrVideoNotEmbeddable) {
			return nil, fmt.Errorf("failed to get video data with embed: %w", err)
		}

		videoData, err = c.getFromPage(ctx, videoId)
		if err != nil {
			return nil, fmt.Errorf("failed to get video data from page: %w", err)
		}
	}

	return videoData, nil
}

func (c *Client) getVideoWithEmbed(ctx context.Context, videoId string) (*VideoData, error) {
	q := url.Values{}
	q.Set("url", WatchURL(videoId))
	q.Set("format", "json")

	resp, err := c.do(ctx, c.oembedBase+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound:
			return nil, ErrVideoNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, ErrVideoNotEmbeddable
		default:
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	}

	var result VideoData
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode oembed response: %w", err)
	}

	return &result, nil
}

func (c *Client) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// getAPI calls a Data API resource and decodes the JSON answer into out.
func (c *Client) getAPI(ctx context.Context, resource string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	params.Set("key", c.apiKey)

	resp, err := c.do(ctx, c.apiBase+"/"+resource+"?"+params.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube %s: unexpected status code: %d", resource, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", resource, err)
	}

	return nil
}
