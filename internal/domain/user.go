package domain

const (
	AnonymousUsername = "Unknown"
	DefaultAvatarURL  = "https://i.imgur.com/WxNkK7J.png"
)

type User struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

func AnonymousUser() User {
	return User{
		Username:  AnonymousUsername,
		AvatarURL: DefaultAvatarURL,
	}
}

func (u User) IsAnonymous() bool {
	return u.Username == "" || u.Username == AnonymousUsername
}
