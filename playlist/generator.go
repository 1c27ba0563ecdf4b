// Package playlist builds the per-user daily playlist out of the content the
// aggregation service collected: a handful of fresh uploads from the user's
// subscribed channels, padded with trending videos scoped to the user's
// subreddits.
package playlist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tubemux/tubemux/model"
	"github.com/tubemux/tubemux/provider"
	"github.com/tubemux/tubemux/utils/log"
)

const (
	uploadsPerChannel    = 2
	maxSubscriptionItems = 10
	maxTrendingItems     = 10
)

// YouTubeService is the slice of the YouTube client the generator consumes:
// channel uploads for subscription candidates and the playlist write calls
// for remote mirroring.
type YouTubeService interface {
	GetChannelVideos(ctx context.Context, channelId string, maxResults int, pageToken string) ([]provider.VideoDetails, string, error)
	CreatePlaylist(ctx context.Context, ts oauth2.TokenSource, title, description, privacyStatus string) (string, error)
	AddVideoToPlaylist(ctx context.Context, ts oauth2.TokenSource, playlistId, videoId string) error
}

type Generator struct {
	db      *gorm.DB
	youtube YouTubeService
	log     *logrus.Entry
}

func NewGenerator(db *gorm.DB, youtube YouTubeService) *Generator {
	return &Generator{
		db:      db,
		youtube: youtube,
		log:     log.Log.WithField("component", "playlist"),
	}
}

// generationParams is the json record stored on the playlist so a generated
// list can be explained after the fact.
type generationParams struct {
	Date              string   `json:"date"`
	SubscriptionCount int      `json:"subscription_count"`
	TrendingCount     int      `json:"trending_count"`
	Subreddits        []string `json:"subreddits,omitempty"`
}

// GenerateDailyPlaylist builds (or returns) the user's auto playlist for the
// given calendar date. The operation is idempotent per (user, date): an
// existing playlist is returned unchanged, never regenerated.
//
// Candidate selection runs in two passes. Subscription candidates come first:
// the latest uploads of the user's subscribed channels, in priority order,
// capped at two per channel. Trending candidates follow: trending videos that
// surfaced in the user's subscribed subreddits ranked by post score, or the
// sitewide top trending videos when the user has no reddit subscriptions.
// Duplicates across the passes keep their subscription slot. When both passes
// come back empty no playlist row is written and nil is returned.
func (g *Generator) GenerateDailyPlaylist(ctx context.Context, user *model.User, date time.Time) (*model.Playlist, error) {
	dateStr := date.UTC().Format(model.PlaylistDateLayout)
	logger := g.log.WithFields(logrus.Fields{"user": user.Id, "date": dateStr})

	existing, err := g.findExisting(ctx, user.Id, dateStr)
	if err != nil {
		logger.Error("daily playlist lookup failed: ", err)
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	subscriptionVideos := g.subscriptionCandidates(ctx, user, logger)

	subreddits, err := g.subscribedSubreddits(ctx, user.Id)
	if err != nil {
		logger.Error("subreddit subscription lookup failed: ", err)
		return nil, err
	}
	trendingVideos, err := g.trendingCandidates(ctx, subreddits)
	if err != nil {
		logger.Error("trending candidate query failed: ", err)
		return nil, err
	}

	if len(subscriptionVideos) == 0 && len(trendingVideos) == 0 {
		logger.Info("no candidates, skipping generation")
		return nil, nil
	}

	now := time.Now().UTC()
	params, _ := json.Marshal(generationParams{
		Date:              dateStr,
		SubscriptionCount: len(subscriptionVideos),
		TrendingCount:     len(trendingVideos),
		Subreddits:        subreddits,
	})

	playlist := &model.Playlist{
		Id:               uuid.New().String(),
		UserID:           user.Id,
		Type:             model.PlaylistTypeAuto,
		Visibility:       model.VisibilityPrivate,
		Date:             dateStr,
		GeneratedAt:      &now,
		GenerationParams: datatypes.JSON(params),
	}

	seen := make(map[string]bool)
	position := 0
	appendItem := func(video *model.Video, source model.ItemSource) {
		if seen[video.ExternalId] {
			return
		}
		seen[video.ExternalId] = true
		position++
		playlist.Items = append(playlist.Items, &model.PlaylistItem{
			Id:         uuid.New().String(),
			PlaylistID: playlist.Id,
			SourceKind: source,
			VideoID:    video.Id,
			Position:   position,
			AddedAt:    now,
		})
	}
	for _, v := range subscriptionVideos {
		appendItem(v, model.ItemSourceSubscription)
	}
	for _, v := range trendingVideos {
		appendItem(v, model.ItemSourceTrending)
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(playlist).Error; err != nil {
			return errors.Wrap(err, "create playlist")
		}
		return nil
	})
	if err != nil {
		logger.Error("daily playlist creation failed: ", err)
		return nil, err
	}

	g.mirrorRemote(ctx, user, playlist, logger)
	return playlist, nil
}

func (g *Generator) findExisting(ctx context.Context, userId, dateStr string) (*model.Playlist, error) {
	var existing model.Playlist
	err := g.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items.Video").
		Where("user_id = ? AND type = ? AND date = ?", userId, model.PlaylistTypeAuto, dateStr).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// subscriptionCandidates fetches recent uploads from the user's subscribed
// channels. Skipped entirely when the user never linked a YouTube account.
// A failing channel is logged and skipped, it never sinks the generation.
func (g *Generator) subscriptionCandidates(ctx context.Context, user *model.User, logger *logrus.Entry) []*model.Video {
	if !user.HasYoutubeCredential() {
		return nil
	}

	var subs []model.Subscription
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", user.Id, model.SubscriptionKindYoutube).
		Order("priority ASC, created_at ASC").
		Find(&subs).Error
	if err != nil {
		logger.Error("youtube subscription lookup failed: ", err)
		return nil
	}

	var videos []*model.Video
	for _, sub := range subs {
		if len(videos) >= maxSubscriptionItems {
			break
		}
		uploads, _, err := g.youtube.GetChannelVideos(ctx, sub.ExternalId, uploadsPerChannel, "")
		if err != nil {
			logger.WithField("channel", sub.ExternalId).Warn("channel uploads fetch failed: ", err)
			continue
		}
		for i := range uploads {
			if len(videos) >= maxSubscriptionItems {
				break
			}
			video, err := g.ensureVideo(ctx, &uploads[i])
			if err != nil {
				logger.WithField("video", uploads[i].ExternalId).Error("video upsert failed: ", err)
				continue
			}
			videos = append(videos, video)
		}
	}
	return videos
}

func (g *Generator) subscribedSubreddits(ctx context.Context, userId string) ([]string, error) {
	var subreddits []string
	err := g.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("user_id = ? AND kind = ?", userId, model.SubscriptionKindReddit).
		Pluck("external_id", &subreddits).Error
	return subreddits, err
}

// trendingCandidates returns trending videos scoped to the given subreddits
// through the post they were discovered in, ranked by that post's score. With
// no subreddits the fallback is sitewide: still post score first, then view
// count, so videos with no originating post (channel uploads) rank last
// among themselves by views.
func (g *Generator) trendingCandidates(ctx context.Context, subreddits []string) ([]*model.Video, error) {
	var videos []*model.Video
	if len(subreddits) > 0 {
		err := g.db.WithContext(ctx).
			Model(&model.Video{}).
			Select("videos.*").
			Joins("JOIN posts ON posts.id = videos.post_id").
			Where("videos.is_trending = ?", true).
			Where("posts.subreddit IN ?", subreddits).
			Order("posts.score DESC").
			Limit(maxTrendingItems).
			Find(&videos).Error
		return videos, err
	}
	err := g.db.WithContext(ctx).
		Model(&model.Video{}).
		Select("videos.*").
		Joins("LEFT JOIN posts ON posts.id = videos.post_id").
		Where("videos.is_trending = ?", true).
		Order("(posts.score IS NULL) ASC").
		Order("posts.score DESC").
		Order("videos.view_count DESC").
		Limit(maxTrendingItems).
		Find(&videos).Error
	return videos, err
}

// ensureVideo upserts provider metadata into the videos table and returns
// the canonical row, so subscription uploads are available to future runs
// even when no reddit post ever referenced them.
func (g *Generator) ensureVideo(ctx context.Context, details *provider.VideoDetails) (*model.Video, error) {
	video := model.Video{
		Id:              uuid.New().String(),
		ExternalId:      details.ExternalId,
		Title:           details.Title,
		Description:     details.Description,
		ChannelId:       details.ChannelId,
		ChannelTitle:    details.ChannelTitle,
		ThumbnailUrl:    details.ThumbnailUrl,
		DurationSeconds: details.DurationSeconds,
		ViewCount:       details.ViewCount,
		LikeCount:       details.LikeCount,
		PublishedAt:     details.PublishedAt,
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "thumbnail_url", "duration_seconds", "view_count", "like_count"}),
	}).Create(&video).Error
	if err != nil {
		return nil, errors.Wrapf(err, "upsert video %s", details.ExternalId)
	}

	var saved model.Video
	if err := g.db.WithContext(ctx).Where("external_id = ?", details.ExternalId).First(&saved).Error; err != nil {
		return nil, errors.Wrapf(err, "reload video %s", details.ExternalId)
	}
	return &saved, nil
}

// mirrorRemote pushes a freshly generated playlist to the user's YouTube
// account. Best effort only: any failure is logged and the local playlist is
// kept as is. Never runs twice, RemoteId marks a mirrored playlist.
func (g *Generator) mirrorRemote(ctx context.Context, user *model.User, playlist *model.Playlist, logger *logrus.Entry) {
	if !user.HasYoutubeCredential() || playlist.RemoteId != nil {
		return
	}
	ts := user.YoutubeTokenSource()

	remoteId, err := g.youtube.CreatePlaylist(ctx, ts, "Daily mix "+playlist.Date, "Generated daily playlist", string(playlist.Visibility))
	if err != nil {
		logger.Warn("remote playlist creation failed: ", err)
		return
	}
	for _, item := range playlist.Items {
		var video model.Video
		if err := g.db.WithContext(ctx).Where("id = ?", item.VideoID).First(&video).Error; err != nil {
			logger.WithField("item", item.Id).Warn("remote mirror item lookup failed: ", err)
			continue
		}
		if err := g.youtube.AddVideoToPlaylist(ctx, ts, remoteId, video.ExternalId); err != nil {
			logger.WithField("video", video.ExternalId).Warn("remote playlist insert failed: ", err)
		}
	}

	if err := g.db.WithContext(ctx).Model(playlist).Update("remote_id", remoteId).Error; err != nil {
		logger.Warn("remote id save failed: ", err)
		return
	}
	playlist.RemoteId = &remoteId
}

// MarkItemWatched flips one playlist item to watched and stamps the time.
func (g *Generator) MarkItemWatched(ctx context.Context, playlistId, itemId string) error {
	now := time.Now().UTC()
	res := g.db.WithContext(ctx).
		Model(&model.PlaylistItem{}).
		Where("id = ? AND playlist_id = ?", itemId, playlistId).
		Updates(map[string]interface{}{"watched": true, "watched_at": &now})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "mark item %s watched", itemId)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearPlaylist deletes a playlist together with its items.
func (g *Generator) ClearPlaylist(ctx context.Context, playlistId string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", playlistId).Delete(&model.PlaylistItem{}).Error; err != nil {
			return errors.Wrapf(err, "clear playlist %s items", playlistId)
		}
		return errors.Wrapf(
			tx.Where("id = ?", playlistId).Delete(&model.Playlist{}).Error,
			"delete playlist %s", playlistId)
	})
}
