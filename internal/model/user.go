package model

import (
	"slices"
	"strings"
	"time"
)

// User is a self-declared identity. There is no authentication: the
// username only attributes items and keeps per-user favourites.
type User struct {
	Username    string    `json:"-"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeen    time.Time `json:"lastSeen"`
	Favorites   []string  `json:"favorites,omitempty"`
}

// NormalizeUsername is the key under which a user is stored.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	u.Favorites = slices.Clone(u.Favorites)
	return u
}

// ToggleFavorite adds list to the favourites, or removes it if present.
// It reports whether list is a favourite afterwards.
func (u *User) ToggleFavorite(list string) bool {
	if i := slices.Index(u.Favorites, list); i >= 0 {
		u.Favorites = slices.Delete(u.Favorites, i, i+1)
		return false
	}
	u.Favorites = append(u.Favorites, list)
	return true
}
