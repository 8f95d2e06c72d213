package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sharetube/watchparty/internal/message"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	calls []string
	panic bool
}

func (r *recorder) HandleVideoUpdate(context.Context, message.VideoUpdate) {
	r.calls = append(r.calls, "video_update")
}
func (r *recorder) HandleVideoPlay(context.Context, message.VideoPlay) {
	r.calls = append(r.calls, "video_play")
}
func (r *recorder) HandleVideoPause(context.Context, message.VideoPause) {
	r.calls = append(r.calls, "video_pause")
}
func (r *recorder) HandleVideoProgress(context.Context, message.VideoProgress) {
	r.calls = append(r.calls, "video_progress")
}
func (r *recorder) HandleQueueUpdate(context.Context, message.QueueUpdate) {
	r.calls = append(r.calls, "queue_update")
}
func (r *recorder) HandleJoin(context.Context, message.Join) {
	r.calls = append(r.calls, "join")
}
func (r *recorder) HandleLeave(context.Context, message.Leave) {
	r.calls = append(r.calls, "leave")
}
func (r *recorder) HandleChat(context.Context, message.Chat) {
	if r.panic {
		panic("boom")
	}
	r.calls = append(r.calls, "chat")
}
func (r *recorder) HandleOwnerLeft(context.Context, message.OwnerLeft) {
	r.calls = append(r.calls, "owner_left")
}

func newDispatcher() (*Dispatcher, *recorder) {
	rec := &recorder{}
	return New(rec, rec, rec, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

func TestDispatchRoutesEachType(t *testing.T) {
	tests := []struct {
		kind message.TopicKind
		raw  string
		want string
	}{
		{message.TopicChat, `{"type":"JOIN","sender":"bob"}`, "join"},
		{message.TopicChat, `{"type":"LEAVE","sender":"bob"}`, "leave"},
		{message.TopicChat, `{"type":"CHAT","sender":"bob","content":"hi"}`, "chat"},
		{message.TopicChat, `{"type":"OWNER_LEFT","sender":"alice","roomId":"1"}`, "owner_left"},
		{message.TopicChat, `{"type":"QUEUE_UPDATE","roomId":"1","queue":[]}`, "queue_update"},
		{message.TopicVideo, `{"type":"VIDEO_UPDATE","videoUrl":"u","currentTime":3,"isPlaying":true}`, "video_update"},
		{message.TopicVideo, `{"type":"VIDEO_PLAY","videoUrl":"u"}`, "video_play"},
		{message.TopicVideo, `{"type":"VIDEO_PAUSE","videoUrl":"u"}`, "video_pause"},
		{message.TopicVideo, `{"type":"VIDEO_PROGRESS","videoUrl":"u","currentTime":40}`, "video_progress"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			d, rec := newDispatcher()
			d.Dispatch(context.Background(), tt.kind, []byte(tt.raw))
			assert.Equal(t, []string{tt.want}, rec.calls)
		})
	}
}

func TestDispatchDropsBadFrames(t *testing.T) {
	tests := []struct {
		name string
		kind message.TopicKind
		raw  string
	}{
		{"unknown type", message.TopicChat, `{"type":"DANCE"}`},
		{"not json", message.TopicChat, `{{`},
		{"missing sender", message.TopicChat, `{"type":"JOIN"}`},
		{"video message on chat topic", message.TopicChat, `{"type":"VIDEO_PLAY","videoUrl":"u"}`},
		{"chat message on video topic", message.TopicVideo, `{"type":"JOIN","sender":"bob"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := newDispatcher()
			assert.NotPanics(t, func() {
				d.Dispatch(context.Background(), tt.kind, []byte(tt.raw))
			})
			assert.Empty(t, rec.calls)
		})
	}
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	d, rec := newDispatcher()
	rec.panic = true

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), message.TopicChat, []byte(`{"type":"CHAT","sender":"bob","content":"hi"}`))
	})

	err := d.dispatch(context.Background(), message.TopicChat, []byte(`{"type":"CHAT","sender":"bob","content":"hi"}`))
	assert.ErrorContains(t, err, "handler panicked")
}

func TestWrongTopicError(t *testing.T) {
	d, _ := newDispatcher()

	err := d.dispatch(context.Background(), message.TopicChat, []byte(`{"type":"VIDEO_PAUSE","videoUrl":"u"}`))
	assert.ErrorIs(t, err, ErrWrongTopic)

	err = d.dispatch(context.Background(), message.TopicChat, []byte(`{"type":"DANCE"}`))
	assert.ErrorIs(t, err, message.ErrUnknownType)
}
