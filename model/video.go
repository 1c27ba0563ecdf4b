package model

import (
	"time"
)

/*

Video is YouTube video metadata, shared reference data mutated only by the
aggregation service

Id: primary key, surrogate uuid
CreatedAt: time when entity is created

ExternalId: the YouTube video id, natural dedup key, unique

PostID:
Post:
		back-reference to the post the video was first discovered in,
		nullable since a video can be standalone (e.g. fetched from a
		subscribed channel). First writer wins: once set it is never
		overwritten, so a later re-share in another post cannot steal the
		origin link.

DurationSeconds: normalized from the provider's ISO-8601 duration
IsTrending: set by the trending sweep, consumed by playlist generation
PublishedAt: provider-side publish time
*/
type Video struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time

	ExternalId string  `gorm:"uniqueIndex"`
	PostID     *string `gorm:"index"`
	Post       *Post

	Title           string
	Description     string
	ChannelId       string `gorm:"index"`
	ChannelTitle    string
	ThumbnailUrl    string
	DurationSeconds int64
	ViewCount       int64
	LikeCount       int64
	IsTrending      bool `gorm:"index"`
	PublishedAt     time.Time
}
