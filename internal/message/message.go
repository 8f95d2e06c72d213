// Package message defines the room wire protocol: a JSON envelope tagged by "type"
// decoded into one Go type per message kind.
package message

import (
	"github.com/sharetube/watchparty/internal/domain"
)

type Type string

const (
	TypeJoin          Type = "JOIN"
	TypeLeave         Type = "LEAVE"
	TypeChat          Type = "CHAT"
	TypeQueueUpdate   Type = "QUEUE_UPDATE"
	TypeOwnerLeft     Type = "OWNER_LEFT"
	TypeVideoUpdate   Type = "VIDEO_UPDATE"
	TypeVideoPlay     Type = "VIDEO_PLAY"
	TypeVideoPause    Type = "VIDEO_PAUSE"
	TypeVideoProgress Type = "VIDEO_PROGRESS"
)

// TopicKind says which of the two room topics a message travels on.
type TopicKind int

const (
	TopicChat TopicKind = iota
	TopicVideo
)

func (k TopicKind) String() string {
	if k == TopicVideo {
		return "video"
	}
	return "room"
}

func (t Type) Topic() TopicKind {
	switch t {
	case TypeVideoUpdate, TypeVideoPlay, TypeVideoPause, TypeVideoProgress:
		return TopicVideo
	default:
		return TopicChat
	}
}

// Message is implemented only by the types in this package.
type Message interface {
	Type() Type
	isMessage()
}

type Join struct {
	Sender    string `json:"sender" validate:"required"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Leave struct {
	Sender    string `json:"sender" validate:"required"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Chat struct {
	ID        string          `json:"id,omitempty"`
	Sender    string          `json:"sender" validate:"required"`
	AvatarURL string          `json:"avatarUrl,omitempty"`
	Content   string          `json:"content,omitempty" validate:"required_without=Image"`
	Image     string          `json:"image,omitempty" validate:"omitempty,base64"`
	ReplyTo   *domain.ReplyTo `json:"replyTo,omitempty"`
}

type QueueUpdate struct {
	RoomID string             `json:"roomId" validate:"required"`
	Queue  []domain.QueueItem `json:"queue"`
}

type OwnerLeft struct {
	Sender string `json:"sender" validate:"required"`
	RoomID string `json:"roomId" validate:"required"`
}

// VideoUpdate is a full playback state announcement.
type VideoUpdate struct {
	VideoURL    string   `json:"videoUrl" validate:"required"`
	CurrentTime *float64 `json:"currentTime,omitempty" validate:"omitempty,gte=0"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
}

type VideoPlay struct {
	VideoURL    string   `json:"videoUrl" validate:"required"`
	CurrentTime *float64 `json:"currentTime,omitempty" validate:"omitempty,gte=0"`
}

type VideoPause struct {
	VideoURL    string   `json:"videoUrl" validate:"required"`
	CurrentTime *float64 `json:"currentTime,omitempty" validate:"omitempty,gte=0"`
}

// VideoProgress reports an explicit seek.
type VideoProgress struct {
	VideoURL    string   `json:"videoUrl" validate:"required"`
	CurrentTime *float64 `json:"currentTime,omitempty" validate:"omitempty,gte=0"`
}

func (Join) Type() Type          { return TypeJoin }
func (Leave) Type() Type         { return TypeLeave }
func (Chat) Type() Type          { return TypeChat }
func (QueueUpdate) Type() Type   { return TypeQueueUpdate }
func (OwnerLeft) Type() Type     { return TypeOwnerLeft }
func (VideoUpdate) Type() Type   { return TypeVideoUpdate }
func (VideoPlay) Type() Type     { return TypeVideoPlay }
func (VideoPause) Type() Type    { return TypeVideoPause }
func (VideoProgress) Type() Type { return TypeVideoProgress }

func (Join) isMessage()          {}
func (Leave) isMessage()         {}
func (Chat) isMessage()          {}
func (QueueUpdate) isMessage()   {}
func (OwnerLeft) isMessage()     {}
func (VideoUpdate) isMessage()   {}
func (VideoPlay) isMessage()     {}
func (VideoPause) isMessage()    {}
func (VideoProgress) isMessage() {}

func Float(f float64) *float64 { return &f }

func Bool(b bool) *bool { return &b }
