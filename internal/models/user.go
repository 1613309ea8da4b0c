package models

import "time"

// User as stored. Passwords and credentials live elsewhere; this service only
// reads profiles.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	AvatarURL string    `db:"avatar_url" json:"avatar_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Profile is the public view of a user pushed to clients. Online is derived
// from the presence registry, never stored.
type Profile struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Online    bool   `json:"online"`
}

// PublicProfile strips the stored user down to what clients may see.
func (u User) PublicProfile(online bool) Profile {
	return Profile{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL, Online: online}
}
