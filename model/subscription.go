package model

import (
	"time"

	"gorm.io/gorm"
)

// SubscriptionKind discriminates what a subscription points at. The set is
// closed on purpose: resolution happens through explicit switches, never
// through runtime type-string matching.
type SubscriptionKind string

const (
	SubscriptionKindYoutube SubscriptionKind = "youtube"
	SubscriptionKindReddit  SubscriptionKind = "reddit"
)

func (k SubscriptionKind) Valid() bool {
	switch k {
	case SubscriptionKindYoutube, SubscriptionKindReddit:
		return true
	}
	return false
}

/*

Subscription is a per-user curated source of content

Id: primary key
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

UserID:
User: owning user, "belongs-to" relation

Kind: "youtube" or "reddit", discriminator of the polymorphic target
ExternalId: channel id for youtube, subreddit name for reddit

(UserID, Kind, ExternalId) is unique: a user cannot subscribe to the same
channel or subreddit twice.

Name: display name
IsFavorite: pin flag for the UI
Priority: user-defined ordering, lower value sorts first
*/
type Subscription struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt

	UserID string `gorm:"uniqueIndex:idx_user_kind_external"`
	User   *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	Kind       SubscriptionKind `gorm:"uniqueIndex:idx_user_kind_external"`
	ExternalId string           `gorm:"uniqueIndex:idx_user_kind_external"`

	Name         string
	Description  string
	ThumbnailUrl string
	IsFavorite   bool
	Priority     int
}
