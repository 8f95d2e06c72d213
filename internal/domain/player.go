package domain

type PlaybackState struct {
	VideoURL  string  `json:"videoUrl"`
	Title     string  `json:"title,omitempty"`
	IsPlaying bool    `json:"isPlaying"`
	Position  float64 `json:"currentTime"`
}

func (s PlaybackState) Loaded() bool {
	return s.VideoURL != ""
}
