// Package subscription manages a user's curated content sources: subreddits
// and YouTube channels. Local CRUD plus a reconciliation sync against the
// channels the user follows on YouTube itself.
package subscription

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tubemux/tubemux/model"
	"github.com/tubemux/tubemux/provider"
	"github.com/tubemux/tubemux/utils/log"
)

// ErrDuplicate marks a create that collides with an existing subscription of
// the same user, kind and external id. Surfaced to the API as a conflict.
var ErrDuplicate = errors.New("subscription already exists")

// ErrInvalidKind marks a create with a kind outside the closed set.
var ErrInvalidKind = errors.New("invalid subscription kind")

// SubscriptionLister is the slice of the YouTube client the sync consumes.
type SubscriptionLister interface {
	ListMySubscriptions(ctx context.Context, ts oauth2.TokenSource) ([]provider.ChannelDetails, error)
}

type Service struct {
	db      *gorm.DB
	youtube SubscriptionLister
	log     *logrus.Entry
}

func NewService(db *gorm.DB, youtube SubscriptionLister) *Service {
	return &Service{
		db:      db,
		youtube: youtube,
		log:     log.Log.WithField("component", "subscription"),
	}
}

// List returns the user's subscriptions ordered by priority then recency.
func (s *Service) List(ctx context.Context, userId string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("priority ASC, created_at ASC").
		Find(&subs).Error
	return subs, errors.Wrap(err, "list subscriptions")
}

// Create adds one subscription. The (user, kind, external id) triple is
// unique; a collision returns ErrDuplicate whether it is caught by the
// pre-check or by the index.
func (s *Service) Create(ctx context.Context, sub *model.Subscription) error {
	if !sub.Kind.Valid() {
		return ErrInvalidKind
	}
	if sub.Id == "" {
		sub.Id = uuid.New().String()
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("user_id = ? AND kind = ? AND external_id = ?", sub.UserID, sub.Kind, sub.ExternalId).
		Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "check subscription")
	}
	if count > 0 {
		return ErrDuplicate
	}

	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return errors.Wrap(err, "create subscription")
	}
	return nil
}

// Update saves mutable presentation fields. Kind and external id are fixed
// after creation, re-pointing a subscription means recreating it.
func (s *Service) Update(ctx context.Context, userId, id string, name *string, isFavorite *bool, priority *int) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userId).First(&sub).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load subscription %s", id)
	}

	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if isFavorite != nil {
		updates["is_favorite"] = *isFavorite
	}
	if priority != nil {
		updates["priority"] = *priority
	}
	if len(updates) == 0 {
		return &sub, nil
	}
	if err := s.db.WithContext(ctx).Model(&sub).Updates(updates).Error; err != nil {
		return nil, errors.Wrapf(err, "update subscription %s", id)
	}
	return &sub, nil
}

// Delete removes one subscription owned by the user. Hard delete: the row
// must vanish from the unique index so the source can be re-subscribed later.
func (s *Service) Delete(ctx context.Context, userId, id string) error {
	res := s.db.WithContext(ctx).Unscoped().
		Where("id = ? AND user_id = ?", id, userId).
		Delete(&model.Subscription{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete subscription %s", id)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SyncResult reports what a reconciliation run changed.
type SyncResult struct {
	Added   int
	Removed int
}

// SyncYouTube reconciles the user's local youtube subscriptions against the
// channels the account follows remotely: channels followed remotely but
// missing locally are inserted, local youtube subscriptions with no remote
// counterpart are removed. Reddit subscriptions are never touched. Without a
// linked credential the sync is a logged no-op, not an error.
func (s *Service) SyncYouTube(ctx context.Context, user *model.User) (*SyncResult, error) {
	result := &SyncResult{}
	if !user.HasYoutubeCredential() {
		s.log.WithField("user", user.Id).Warn("youtube sync skipped, no linked credential")
		return result, nil
	}

	remote, err := s.youtube.ListMySubscriptions(ctx, user.YoutubeTokenSource())
	if err != nil {
		return nil, errors.Wrap(err, "list remote subscriptions")
	}
	remoteById := make(map[string]provider.ChannelDetails, len(remote))
	for _, channel := range remote {
		remoteById[channel.ExternalId] = channel
	}

	var local []model.Subscription
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", user.Id, model.SubscriptionKindYoutube).
		Find(&local).Error
	if err != nil {
		return nil, errors.Wrap(err, "list local subscriptions")
	}
	localById := make(map[string]*model.Subscription, len(local))
	for i := range local {
		localById[local[i].ExternalId] = &local[i]
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, channel := range remote {
			if _, ok := localById[channel.ExternalId]; ok {
				continue
			}
			sub := model.Subscription{
				Id:           uuid.New().String(),
				UserID:       user.Id,
				Kind:         model.SubscriptionKindYoutube,
				ExternalId:   channel.ExternalId,
				Name:         channel.Title,
				Description:  channel.Description,
				ThumbnailUrl: channel.ThumbnailUrl,
			}
			if err := tx.Create(&sub).Error; err != nil {
				return errors.Wrapf(err, "insert channel %s", channel.ExternalId)
			}
			result.Added++
		}
		for externalId, sub := range localById {
			if _, ok := remoteById[externalId]; ok {
				continue
			}
			if err := tx.Unscoped().Delete(sub).Error; err != nil {
				return errors.Wrapf(err, "remove channel %s", externalId)
			}
			result.Removed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user":    user.Id,
		"added":   result.Added,
		"removed": result.Removed,
	}).Info("youtube subscriptions synced")
	return result, nil
}

// isUniqueViolation matches the constraint error text of both backing
// databases (postgres in production, sqlite in tests).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
