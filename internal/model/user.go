package model

import "time"

// Role separates regular users from the moderator pool that staffs
// live support sessions.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
)

type User struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	AvatarURL  string     `json:"avatar_url"`
	Role       Role       `json:"role"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	DisabledAt *time.Time `json:"-"` // non-null = banned, cannot sign in
}

// UserPublic is the profile snapshot denormalized into conversation views.
type UserPublic struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	Role       Role      `json:"role"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		Role:       u.Role,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
	}
}
