package model

import (
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

/*

User is a registered account that owns subscriptions and playlists

Id: primary key, use to identify a user
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

Name: display name
Email: login email, unique

YoutubeAccessToken:
YoutubeRefreshToken:
YoutubeTokenExpiry:
		set when the user linked a YouTube account through the OAuth flow,
		all nil otherwise. Playlist mirroring and subscription sync require
		a linked credential; both degrade gracefully when it is absent.

Subscriptions: curated subreddits/channels, "has-many" relation
Playlists: auto-generated and user-curated playlists, "has-many" relation
*/
type User struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
	Name      string
	Email     string `gorm:"uniqueIndex"`

	YoutubeAccessToken  *string
	YoutubeRefreshToken *string
	YoutubeTokenExpiry  *time.Time

	Subscriptions []*Subscription `json:"subscriptions"`
	Playlists     []*Playlist     `json:"playlists"`
}

// HasYoutubeCredential reports whether the user linked a YouTube account.
func (u *User) HasYoutubeCredential() bool {
	return u.YoutubeAccessToken != nil && *u.YoutubeAccessToken != ""
}

// YoutubeTokenSource adapts the stored credential into an oauth2 token source
// usable by the YouTube client's write operations. Returns nil when the user
// has no linked credential.
func (u *User) YoutubeTokenSource() oauth2.TokenSource {
	if !u.HasYoutubeCredential() {
		return nil
	}
	token := &oauth2.Token{AccessToken: *u.YoutubeAccessToken}
	if u.YoutubeRefreshToken != nil {
		token.RefreshToken = *u.YoutubeRefreshToken
	}
	if u.YoutubeTokenExpiry != nil {
		token.Expiry = *u.YoutubeTokenExpiry
	}
	return oauth2.StaticTokenSource(token)
}
