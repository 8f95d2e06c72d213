package ytvideodata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type SearchParams struct {
	Query      string
	MaxResults int
	CategoryID string
	RegionCode string
	Duration   string
	Order      string
}

type SearchResult struct {
	VideoID      string
	Title        string
	ThumbnailURL string
	ChannelID    string
	PublishedAt  string
}

type Details struct {
	VideoID   string
	Duration  string
	ViewCount int64
	ChannelID string
}

type thumbnails struct {
	Default struct {
		URL string `json:"url"`
	} `json:"default"`
	Medium struct {
		URL string `json:"url"`
	} `json:"medium"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title       string     `json:"title"`
			ChannelID   string     `json:"channelId"`
			PublishedAt string     `json:"publishedAt"`
			Thumbnails  thumbnails `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			ChannelID string `json:"channelId"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type channelsResponse struct {
	Items []struct {
		Snippet struct {
			Thumbnails thumbnails `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

func (c *Client) Search(ctx context.Context, params *SearchParams) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("q", params.Query)
	if params.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(params.MaxResults))
	}
	if params.CategoryID != "" {
		q.Set("videoCategoryId", params.CategoryID)
	}
	if params.RegionCode != "" {
		q.Set("regionCode", params.RegionCode)
	}
	if params.Duration != "" {
		q.Set("videoDuration", params.Duration)
	}
	if params.Order != "" {
		q.Set("order", params.Order)
	}

	var resp searchResponse
	if err := c.getAPI(ctx, "search", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to search videos: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		results = append(results, SearchResult{
			VideoID:      item.ID.VideoID,
			Title:        item.Snippet.Title,
			ThumbnailURL: item.Snippet.Thumbnails.Medium.URL,
			ChannelID:    item.Snippet.ChannelID,
			PublishedAt:  item.Snippet.PublishedAt,
		})
	}

	return results, nil
}

// VideoDetails returns duration, view count and channel for each known id.
func (c *Client) VideoDetails(ctx context.Context, videoIds []string) (map[string]Details, error) {
	details := make(map[string]Details, len(videoIds))
	if len(videoIds) == 0 {
		return details, nil
	}

	q := url.Values{}
	q.Set("part", "snippet,contentDetails,statistics")
	q.Set("id", strings.Join(videoIds, ","))

	var resp videosResponse
	if err := c.getAPI(ctx, "videos", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to get video details: %w", err)
	}

	for _, item := range resp.Items {
		viewCount, _ := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
		details[item.ID] = Details{
			VideoID:   item.ID,
			Duration:  item.ContentDetails.Duration,
			ViewCount: viewCount,
			ChannelID: item.Snippet.ChannelID,
		}
	}

	return details, nil
}

// ChannelAvatar returns the default thumbnail of the channel that uploaded the video.
func (c *Client) ChannelAvatar(ctx context.Context, videoId string) (string, error) {
	details, err := c.VideoDetails(ctx, []string{videoId})
	if err != nil {
		return "", err
	}

	video, ok := details[videoId]
	if !ok || video.ChannelID == "" {
		return "", ErrVideoNotFound
	}

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", video.ChannelID)

	var resp channelsResponse
	if err := c.getAPI(ctx, "channels", q, &resp); err != nil {
		return "", fmt.Errorf("failed to get channel: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("channel %s not found", video.ChannelID)
	}

	return resp.Items[0].Snippet.Thumbnails.Default.URL, nil
}
