package domain

// Room is the metadata served by the rooms API. Playback state is not part of it.
type Room struct {
	ID                string `json:"id"`
	OwnerUsername     string `json:"owner_username"`
	CurrentVideoURL   string `json:"current_video_url,omitempty"`
	CurrentVideoTitle string `json:"current_video_title,omitempty"`
}

func (r Room) IsOwnedBy(u User) bool {
	return !u.IsAnonymous() && r.OwnerUsername != "" && r.OwnerUsername == u.Username
}
