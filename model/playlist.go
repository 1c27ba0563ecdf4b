package model

import (
	"time"

	"gorm.io/datatypes"
)

// PlaylistType separates system-generated playlists from user-curated ones.
type PlaylistType string

const (
	PlaylistTypeAuto   PlaylistType = "auto"
	PlaylistTypeCustom PlaylistType = "custom"
)

// PlaylistVisibility mirrors YouTube's privacy statuses so a local playlist
// can be mirrored remotely without translation.
type PlaylistVisibility string

const (
	VisibilityPrivate  PlaylistVisibility = "private"
	VisibilityUnlisted PlaylistVisibility = "unlisted"
	VisibilityPublic   PlaylistVisibility = "public"
)

// PlaylistDateLayout is the storage format of Playlist.Date.
const PlaylistDateLayout = "2006-01-02"

/*

Playlist is an ordered list of videos owned by one user

Id: primary key
CreatedAt: time when entity is created

UserID:
User: owning user, "belongs-to" relation

Type: "auto" (daily generated) or "custom" (user curated)
Visibility: private/unlisted/public, defaults to private on generation
Date: calendar date an auto playlist was generated for

(UserID, Type, Date) is unique for auto playlists: at most one generated
playlist per user per day. The index is partial so curated ("custom")
playlists stay unconstrained, a user can curate any number on one date.
The generator checks for an existing row first; the index is the backstop
against concurrent generation.

RemoteId: id of the mirrored YouTube playlist, nil until mirrored once.
		Never re-created when already set.
GenerationParams: json record of the parameters the generator ran with
Items: ordered playlist entries, cascade-deleted with the playlist
*/
type Playlist struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time

	UserID string `gorm:"index:idx_user_auto_date,unique,where:type = 'auto'"`
	User   *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	Type       PlaylistType `gorm:"index:idx_user_auto_date,unique"`
	Visibility PlaylistVisibility
	Date       string `gorm:"index:idx_user_auto_date,unique"`

	RemoteId         *string
	ViewCount        int64
	LastViewedAt     *time.Time
	GeneratedAt      *time.Time
	GenerationParams datatypes.JSON

	Items []*PlaylistItem `json:"items" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
