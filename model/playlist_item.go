package model

import (
	"time"
)

// ItemSource records which generation pass added an item, so the UI can
// distinguish priority subscription content from trending filler. Closed
// set, resolved by explicit switches.
type ItemSource string

const (
	ItemSourceSubscription ItemSource = "subscription"
	ItemSourceTrending     ItemSource = "trending"
	ItemSourceManual       ItemSource = "manual"
)

func (s ItemSource) Valid() bool {
	switch s {
	case ItemSourceSubscription, ItemSourceTrending, ItemSourceManual:
		return true
	}
	return false
}

/*

PlaylistItem is one entry of a playlist

Id: primary key
CreatedAt: time when entity is created

PlaylistID:
Playlist: owning playlist, "belongs-to" relation, cascade delete

SourceKind: which pass added the item ("subscription"/"trending"/"manual")
VideoID:
Video: the referenced video, "belongs-to" relation

Position: 1-based ordering inside the playlist, unique per playlist,
		assigned deterministically by the generation algorithm
Watched: per-item watched state
AddedAt/WatchedAt: lifecycle timestamp pair
*/
type PlaylistItem struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time

	PlaylistID string    `gorm:"uniqueIndex:idx_playlist_position"`
	Playlist   *Playlist `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	SourceKind ItemSource
	VideoID    string `gorm:"index"`
	Video      *Video

	Position  int `gorm:"uniqueIndex:idx_playlist_position"`
	Watched   bool
	AddedAt   time.Time
	WatchedAt *time.Time
}
