// Package catalog turns YouTube and server library lookups into queue candidates.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/sharetube/watchparty/internal/api"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
)

// TrendingQueries are the music searches the trending refill picks from.
var TrendingQueries = []string{"us uk", "nhạc pop usuk", "nhạc indie việt"}

const (
	musicCategoryID = "10"
	trendingRegion  = "VN"
	trendingResults = 10
)

var ErrNoResults = errors.New("no videos found")

type YouTube interface {
	Get(ctx context.Context, videoId string) (*ytvideodata.VideoData, error)
	Search(ctx context.Context, params *ytvideodata.SearchParams) ([]ytvideodata.SearchResult, error)
	VideoDetails(ctx context.Context, videoIds []string) (map[string]ytvideodata.Details, error)
	ChannelAvatar(ctx context.Context, videoId string) (string, error)
}

type Library interface {
	ListVideos(ctx context.Context) ([]api.LibraryVideo, error)
	PlayURL(title string) string
	SiteURL(path string) string
}

type Catalog struct {
	yt      YouTube
	library Library
	pick    func(n int) int
	logger  *slog.Logger
}

func New(yt YouTube, library Library, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	return &Catalog{
		yt:      yt,
		library: library,
		pick:    rand.IntN,
		logger:  logger,
	}
}

// Trending searches a random music query and returns the results most viewed first.
func (c *Catalog) Trending(ctx context.Context) ([]domain.QueueItem, error) {
	query := TrendingQueries[c.pick(len(TrendingQueries))]

	results, err := c.yt.Search(ctx, &ytvideodata.SearchParams{
		Query:      query,
		MaxResults: trendingResults,
		CategoryID: musicCategoryID,
		RegionCode: trendingRegion,
		Duration:   "medium",
		Order:      "viewCount",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search trending: %w", err)
	}

	items, err := c.withDetails(ctx, results)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].IsTrending = true
	}
	slices.SortStableFunc(items, func(a, b domain.QueueItem) int {
		return cmp.Compare(b.ViewCount, a.ViewCount)
	})

	c.logger.DebugContext(ctx, "fetched trending videos", "query", query, "count", len(items))

	return items, nil
}

// Search returns YouTube candidates for a free-text query.
func (c *Catalog) Search(ctx context.Context, query string) ([]domain.QueueItem, error) {
	results, err := c.yt.Search(ctx, &ytvideodata.SearchParams{
		Query:      query,
		MaxResults: trendingResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search videos: %w", err)
	}

	return c.withDetails(ctx, results)
}

func (c *Catalog) withDetails(ctx context.Context, results []ytvideodata.SearchResult) ([]domain.QueueItem, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.VideoID)
	}
	details, err := c.yt.VideoDetails(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get video details: %w", err)
	}

	items := make([]domain.QueueItem, 0, len(results))
	for _, r := range results {
		d := details[r.VideoID]
		items = append(items, domain.QueueItem{
			ID:            r.VideoID,
			Title:         r.Title,
			ThumbnailURL:  r.ThumbnailURL,
			SourceURL:     ytvideodata.WatchURL(r.VideoID),
			DurationLabel: FormatDuration(d.Duration),
			ViewCount:     d.ViewCount,
			Voters:        []domain.User{},
		})
	}

	return items, nil
}

// Video looks up one YouTube video with its channel avatar. A missing avatar
// falls back to the default one.
func (c *Catalog) Video(ctx context.Context, videoId string) (domain.QueueItem, error) {
	data, err := c.yt.Get(ctx, videoId)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("failed to get video %s: %w", videoId, err)
	}

	return domain.QueueItem{
		ID:               videoId,
		Title:            data.Title,
		ThumbnailURL:     data.ThumbnailUrl,
		SourceURL:        ytvideodata.WatchURL(videoId),
		Voters:           []domain.User{},
		ChannelAvatarURL: c.channelAvatar(ctx, videoId),
	}, nil
}

func (c *Catalog) channelAvatar(ctx context.Context, videoId string) string {
	avatar, err := c.yt.ChannelAvatar(ctx, videoId)
	if err != nil || avatar == "" {
		c.logger.DebugContext(ctx, "using default channel avatar", "video_id", videoId, "error", err)
		return domain.DefaultAvatarURL
	}

	return avatar
}

// Library lists the videos hosted by the rooms server.
func (c *Catalog) Library(ctx context.Context) ([]domain.QueueItem, error) {
	videos, err := c.library.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}

	items := make([]domain.QueueItem, 0, len(videos))
	for _, v := range videos {
		items = append(items, domain.QueueItem{
			ID:            v.Title,
			Title:         strings.TrimSuffix(v.Title, ".mp4"),
			ThumbnailURL:  c.library.SiteURL(v.Thumbnail),
			SourceURL:     c.library.PlayURL(v.Title),
			DurationLabel: v.Duration,
			Voters:        []domain.User{},
		})
	}

	return items, nil
}
