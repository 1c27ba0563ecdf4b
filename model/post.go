package model

import (
	"time"
)

/*

Post is a Reddit submission fetched by the aggregation job

Id: primary key, surrogate uuid assigned on first insert, immutable
CreatedAt: time when entity is created

ExternalId: the Reddit post id, natural dedup key, unique
Subreddit: subreddit name without the "r/" prefix
Title: post title in plain text
Body: selftext, empty for link posts
Author: reddit username
Permalink: canonical reddit URL of the post
Url: external URL the post points to (may equal Permalink for self posts)

Score:
NumComments:
HasYoutubeVideo:
		the only mutable fields, refreshed on every re-fetch of the same
		external id. Everything else is written once at creation.

PostedAt: provider-side creation time, listing order key
Video: the resolved YouTube video when HasYoutubeVideo, "has-one" relation
*/
type Post struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time

	ExternalId      string `gorm:"uniqueIndex"`
	Subreddit       string `gorm:"index"`
	Title           string
	Body            string
	Author          string
	Permalink       string
	Url             string
	Score           int64
	NumComments     int64
	HasYoutubeVideo bool
	PostedAt        time.Time `gorm:"index"`

	Video *Video `json:"video"`
}
