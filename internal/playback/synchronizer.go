// Package playback keeps the local player in step with the room owner.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/message"
	"github.com/sharetube/watchparty/pkg/taskgroup"
)

const (
	// SeekThreshold is how far, in seconds, the local position may drift from the
	// owner's before an inbound update seeks.
	SeekThreshold = 2.0

	ReannounceInterval = 5 * time.Second
	EndCountdown       = 10 * time.Second
)

var ErrNothingLoaded = errors.New("no video loaded")

type Publisher interface {
	Publish(ctx context.Context, msg message.Message) error
}

// Promoter hands out the next video when the current one ends.
type Promoter interface {
	PromoteNext(ctx context.Context) (domain.QueueItem, bool)
}

// VideoRecorder stores the room's now-playing metadata server-side.
type VideoRecorder interface {
	UpdateVideo(ctx context.Context, roomID, videoURL, title string) error
}

type Video struct {
	URL              string
	Title            string
	ChannelAvatarURL string
}

func VideoFromItem(item domain.QueueItem) Video {
	return Video{
		URL:              item.SourceURL,
		Title:            item.Title,
		ChannelAvatarURL: item.ChannelAvatarURL,
	}
}

type Params struct {
	Player    Player
	Guard     *authority.Guard
	Publisher Publisher
	Recorder  VideoRecorder
	Tasks     *taskgroup.Group
	Logger    *slog.Logger
}

type Synchronizer struct {
	player   Player
	guard    *authority.Guard
	pub      Publisher
	recorder VideoRecorder
	tasks    *taskgroup.Group
	logger   *slog.Logger

	mu                sync.Mutex
	state             domain.PlaybackState
	panelOpen         bool
	promoter          Promoter
	countdownCancel   func()
	countdownDeadline time.Time
}

func New(p *Params) *Synchronizer {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		player:   p.Player,
		guard:    p.Guard,
		pub:      p.Publisher,
		recorder: p.Recorder,
		tasks:    p.Tasks,
		logger:   logger,
	}
}

func (s *Synchronizer) SetPromoter(promoter Promoter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promoter = promoter
}

// Snapshot returns the current state with the position read from the player.
func (s *Synchronizer) Snapshot() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	if state.Loaded() {
		state.Position = s.player.CurrentTime()
	}

	return state
}

func (s *Synchronizer) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Loaded()
}

func (s *Synchronizer) SetPanelOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.panelOpen = open
}

// loadLocked switches the player to url and drops any pending end-of-video countdown.
func (s *Synchronizer) loadLocked(v Video, playing bool) {
	s.cancelCountdownLocked()

	s.state = domain.PlaybackState{
		VideoURL:  v.URL,
		Title:     v.Title,
		IsPlaying: playing,
	}
	s.player.Load(v.URL)
	s.player.SetPlaying(playing)
}

// Select makes v the room's video. Owner only.
func (s *Synchronizer) Select(ctx context.Context, v Video, autoplay bool) error {
	if err := s.guard.Authorize(ctx, authority.ActionSelectVideo); err != nil {
		return err
	}

	s.mu.Lock()
	s.loadLocked(v, autoplay)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "video selected", "video_url", v.URL, "title", v.Title, "autoplay", autoplay)

	if err := s.pub.Publish(ctx, message.VideoUpdate{
		VideoURL:    v.URL,
		CurrentTime: message.Float(0),
		IsPlaying:   message.Bool(autoplay),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to publish video update", "error", err)
	}

	if s.recorder != nil {
		if err := s.recorder.UpdateVideo(ctx, s.guard.RoomID(), v.URL, v.Title); err != nil {
			s.logger.WarnContext(ctx, "failed to record now playing", "error", err)
		}
	}

	if v.Title != "" {
		s.announceNowPlaying(ctx, v)
	}

	return nil
}

// NowPlayingSender is the sender name of the chat line posted when a video starts.
const NowPlayingSender = "Now playing"

func (s *Synchronizer) announceNowPlaying(ctx context.Context, v Video) {
	avatar := v.ChannelAvatarURL
	if avatar == "" {
		avatar = domain.DefaultAvatarURL
	}

	if err := s.pub.Publish(ctx, message.Chat{
		ID:        uuid.NewString(),
		Sender:    NowPlayingSender,
		AvatarURL: avatar,
		Content:   v.Title,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to publish now playing", "error", err)
	}
}

func (s *Synchronizer) Play(ctx context.Context) error {
	return s.setPlaying(ctx, true)
}

func (s *Synchronizer) Pause(ctx context.Context) error {
	return s.setPlaying(ctx, false)
}

func (s *Synchronizer) setPlaying(ctx context.Context, playing bool) error {
	action := authority.ActionPause
	if playing {
		action = authority.ActionPlay
	}
	if err := s.guard.Authorize(ctx, action); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.state.Loaded() {
		s.mu.Unlock()
		return ErrNothingLoaded
	}
	s.player.SetPlaying(playing)
	s.state.IsPlaying = playing
	url, pos := s.state.VideoURL, s.player.CurrentTime()
	s.mu.Unlock()

	var msg message.Message = message.VideoPause{VideoURL: url, CurrentTime: message.Float(pos)}
	if playing {
		msg = message.VideoPlay{VideoURL: url, CurrentTime: message.Float(pos)}
	}

	if err := s.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type(), err)
	}

	return nil
}

func (s *Synchronizer) Seek(ctx context.Context, seconds float64) error {
	if err := s.guard.Authorize(ctx, authority.ActionSeek); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.state.Loaded() {
		s.mu.Unlock()
		return ErrNothingLoaded
	}
	s.player.SeekTo(seconds)
	url, pos := s.state.VideoURL, s.player.CurrentTime()
	s.mu.Unlock()

	if err := s.pub.Publish(ctx, message.VideoProgress{VideoURL: url, CurrentTime: message.Float(pos)}); err != nil {
		return fmt.Errorf("failed to publish seek: %w", err)
	}

	return nil
}

// Announce publishes the full playback state. It does nothing unless the local
// user owns the room and a video is loaded.
func (s *Synchronizer) Announce(ctx context.Context) error {
	if !s.guard.IsOwner() {
		return nil
	}

	state := s.Snapshot()
	if !state.Loaded() {
		return nil
	}

	if err := s.pub.Publish(ctx, message.VideoUpdate{
		VideoURL:    state.VideoURL,
		CurrentTime: message.Float(state.Position),
		IsPlaying:   message.Bool(state.IsPlaying),
	}); err != nil {
		return fmt.Errorf("failed to announce state: %w", err)
	}

	return nil
}

// RunReannounce re-publishes the state every ReannounceInterval while the browse
// panel is closed. The loop lives as long as the task group.
func (s *Synchronizer) RunReannounce() (cancel func()) {
	return s.tasks.Every(ReannounceInterval, func(ctx context.Context) {
		s.mu.Lock()
		panelOpen := s.panelOpen
		s.mu.Unlock()
		if panelOpen {
			return
		}

		if err := s.Announce(ctx); err != nil {
			s.logger.DebugContext(ctx, "re-announce skipped", "error", err)
		}
	})
}

func (s *Synchronizer) HandleVideoUpdate(ctx context.Context, msg message.VideoUpdate) {
	s.apply(ctx, msg.VideoURL, msg.IsPlaying, msg.CurrentTime, false)
}

func (s *Synchronizer) HandleVideoPlay(ctx context.Context, msg message.VideoPlay) {
	s.apply(ctx, msg.VideoURL, message.Bool(true), msg.CurrentTime, false)
}

func (s *Synchronizer) HandleVideoPause(ctx context.Context, msg message.VideoPause) {
	s.apply(ctx, msg.VideoURL, message.Bool(false), msg.CurrentTime, false)
}

// HandleVideoProgress always seeks since it carries an explicit seek by the owner.
func (s *Synchronizer) HandleVideoProgress(ctx context.Context, msg message.VideoProgress) {
	s.apply(ctx, msg.VideoURL, nil, msg.CurrentTime, true)
}

func (s *Synchronizer) apply(ctx context.Context, url string, playing *bool, position *float64, forceSeek bool) {
	// the owner receives its own broadcasts back
	if s.guard.IsOwner() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if url != s.state.VideoURL {
		s.logger.DebugContext(ctx, "switching video", "video_url", url)
		s.loadLocked(Video{URL: url}, s.state.IsPlaying)
	}

	if playing != nil && *playing != s.state.IsPlaying {
		s.player.SetPlaying(*playing)
		s.state.IsPlaying = *playing
	}

	if position != nil {
		local := s.player.CurrentTime()
		if forceSeek || math.Abs(local-*position) > SeekThreshold {
			s.player.SeekTo(*position)
		}
	}
}

// Ended starts the end-of-video countdown. When it runs out the owner promotes
// the next queued video; other clients only show the countdown.
func (s *Synchronizer) Ended(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdownCancel != nil {
		return
	}

	s.state.IsPlaying = false
	s.player.SetPlaying(false)
	s.countdownDeadline = s.tasks.Clock().Now().Add(EndCountdown)
	s.countdownCancel = s.tasks.After(EndCountdown, s.countdownExpired)

	s.logger.InfoContext(ctx, "video ended, next video in", "countdown", EndCountdown)
}

func (s *Synchronizer) countdownExpired(ctx context.Context) {
	s.mu.Lock()
	s.countdownCancel = nil
	promoter := s.promoter
	s.mu.Unlock()

	if !s.guard.IsOwner() || promoter == nil {
		return
	}

	item, ok := promoter.PromoteNext(ctx)
	if !ok {
		s.logger.InfoContext(ctx, "nothing left to play")
		return
	}

	if err := s.Select(ctx, VideoFromItem(item), true); err != nil {
		s.logger.WarnContext(ctx, "failed to play next video", "error", err)
	}
}

// CountdownRemaining reports the time left before the next video, if a countdown runs.
func (s *Synchronizer) CountdownRemaining() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdownCancel == nil {
		return 0, false
	}

	return max(s.countdownDeadline.Sub(s.tasks.Clock().Now()), 0), true
}

func (s *Synchronizer) cancelCountdownLocked() {
	if s.countdownCancel != nil {
		s.countdownCancel()
		s.countdownCancel = nil
	}
}

// Stop halts local playback when the owner leaves.
func (s *Synchronizer) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelCountdownLocked()
	s.state.IsPlaying = false
	s.player.SetPlaying(false)

	s.logger.DebugContext(ctx, "playback stopped")
}
