package domain

import "time"

type ChatType string

const (
	ChatTypeChat  ChatType = "CHAT"
	ChatTypeJoin  ChatType = "JOIN"
	ChatTypeLeave ChatType = "LEAVE"
)

type ReplyTo struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type ChatMessage struct {
	ID         string    `json:"id,omitempty"`
	Sender     string    `json:"sender"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	Content    string    `json:"content,omitempty"`
	ImageData  string    `json:"image,omitempty"`
	Type       ChatType  `json:"type"`
	ReplyTo    *ReplyTo  `json:"replyTo,omitempty"`
	ReceivedAt time.Time `json:"-"`
}
