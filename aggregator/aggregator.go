// Package aggregator orchestrates the provider clients: it pulls Reddit
// listings, upserts them as posts, resolves linked YouTube videos and keeps
// the trending flag fresh. It is the only writer of the shared post/video
// reference data.
package aggregator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tubemux/tubemux/model"
	"github.com/tubemux/tubemux/provider"
	"github.com/tubemux/tubemux/utils/log"
)

// RedditSource is the slice of the Reddit client the aggregator consumes.
// Narrowed to an interface so tests can inject fakes.
type RedditSource interface {
	GetPopularPosts(ctx context.Context, timeframe string, limit int, after string) ([]provider.RedditPost, string, error)
	GetSubredditPosts(ctx context.Context, subreddit, sort, timeframe string, limit int, after string) ([]provider.RedditPost, string, error)
}

// VideoSource resolves YouTube video metadata for posts that embed one.
type VideoSource interface {
	GetVideoDetails(ctx context.Context, id string) (*provider.VideoDetails, error)
}

// SubredditStats is the per-listing slice of a run's outcome.
type SubredditStats struct {
	Processed   int
	SavedPosts  int
	SavedVideos int
}

// Stats sums one aggregation run. Errors carries one entry per failed item
// with enough context (subreddit, post id) to diagnose; a non-empty Errors
// with non-zero SavedPosts is a partial success, the normal case.
type Stats struct {
	Processed    int
	SavedPosts   int
	SavedVideos  int
	Errors       []string
	PerSubreddit map[string]*SubredditStats
}

func (s *Stats) addError(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// String renders the operator-facing one-line summary.
func (s *Stats) String() string {
	return fmt.Sprintf("processed=%d saved_posts=%d saved_videos=%d errors=%d",
		s.Processed, s.SavedPosts, s.SavedVideos, len(s.Errors))
}

// PopularListing is the PerSubreddit key used when no subreddits were
// requested and the sitewide popular listing was fetched instead.
const PopularListing = "popular"

type ContentAggregator struct {
	db      *gorm.DB
	reddit  RedditSource
	youtube VideoSource
	log     *logrus.Entry
}

func NewContentAggregator(db *gorm.DB, reddit RedditSource, youtube VideoSource) *ContentAggregator {
	return &ContentAggregator{
		db:      db,
		reddit:  reddit,
		youtube: youtube,
		log:     log.Log.WithField("component", "aggregator"),
	}
}

// AggregateContent fetches and persists one batch of content. An empty
// subreddit set means one run over the popular listing; otherwise each
// subreddit's hot listing is fetched independently. The timeframe is passed
// through regardless (the listing API only honors it for "top" sorts).
//
// Failures never abort the batch: a failed subreddit fetch or a bad post is
// recorded in the stats and processing continues with the next item.
func (a *ContentAggregator) AggregateContent(ctx context.Context, subreddits []string, timeframe string, limit int) *Stats {
	stats := &Stats{PerSubreddit: make(map[string]*SubredditStats)}

	if len(subreddits) == 0 {
		posts, _, err := a.reddit.GetPopularPosts(ctx, timeframe, limit, "")
		a.processListing(ctx, PopularListing, posts, err, stats)
		return stats
	}

	for _, subreddit := range subreddits {
		posts, _, err := a.reddit.GetSubredditPosts(ctx, subreddit, "hot", timeframe, limit, "")
		a.processListing(ctx, subreddit, posts, err, stats)
	}
	return stats
}

func (a *ContentAggregator) processListing(ctx context.Context, name string, posts []provider.RedditPost, fetchErr error, stats *Stats) {
	listing := &SubredditStats{}
	stats.PerSubreddit[name] = listing

	if fetchErr != nil {
		a.log.WithFields(logrus.Fields{"listing": name}).Error("listing fetch failed: ", fetchErr)
		stats.addError("listing %s: %v", name, fetchErr)
		return
	}

	for i := range posts {
		post := &posts[i]
		stats.Processed++
		listing.Processed++

		saved, err := a.upsertPost(ctx, post)
		if err != nil {
			a.log.WithFields(logrus.Fields{"listing": name, "post": post.ExternalId}).Error("post upsert failed: ", err)
			stats.addError("post %s (%s): %v", post.ExternalId, name, err)
			continue
		}
		stats.SavedPosts++
		listing.SavedPosts++

		if !post.HasYoutubeVideo || post.YoutubeVideoId == "" {
			continue
		}
		if err := a.resolveVideo(ctx, saved, post.YoutubeVideoId); err != nil {
			a.log.WithFields(logrus.Fields{"listing": name, "post": post.ExternalId, "video": post.YoutubeVideoId}).Error("video resolution failed: ", err)
			stats.addError("video %s for post %s (%s): %v", post.YoutubeVideoId, post.ExternalId, name, err)
			continue
		}
		stats.SavedVideos++
		listing.SavedVideos++
	}
}

// upsertPost inserts the post or refreshes its mutable fields (score,
// comment count, video flag) when the external id already exists. All other
// fields keep their first-insert values. The insert and the conflict path
// are one atomic statement; the unique index on external_id is the backstop
// against concurrent runs.
func (a *ContentAggregator) upsertPost(ctx context.Context, p *provider.RedditPost) (*model.Post, error) {
	post := model.Post{
		Id:              uuid.New().String(),
		ExternalId:      p.ExternalId,
		Subreddit:       p.Subreddit,
		Title:           p.Title,
		Body:            p.Body,
		Author:          p.Author,
		Permalink:       p.Permalink,
		Url:             p.Url,
		Score:           p.Score,
		NumComments:     p.NumComments,
		HasYoutubeVideo: p.HasYoutubeVideo,
		PostedAt:        p.PostedAt,
	}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "num_comments", "has_youtube_video"}),
	}).Create(&post).Error
	if err != nil {
		return nil, errors.Wrapf(err, "upsert post %s", p.ExternalId)
	}

	// Re-read so callers see the canonical row: on conflict the generated id
	// above was discarded in favor of the existing one.
	var saved model.Post
	if err := a.db.WithContext(ctx).Where("external_id = ?", p.ExternalId).First(&saved).Error; err != nil {
		return nil, errors.Wrapf(err, "reload post %s", p.ExternalId)
	}
	return &saved, nil
}

// resolveVideo upserts the video a post embeds and links it back to the
// post. The link is first-writer-wins: a video already linked to an earlier
// post keeps that origin even when re-shared.
func (a *ContentAggregator) resolveVideo(ctx context.Context, post *model.Post, videoId string) error {
	details, err := a.youtube.GetVideoDetails(ctx, videoId)
	if err != nil {
		return err
	}

	video := model.Video{Id: uuid.New().String()}
	if err := copier.Copy(&video, details); err != nil {
		return errors.Wrapf(err, "map video %s", videoId)
	}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "thumbnail_url", "duration_seconds", "view_count", "like_count"}),
	}).Create(&video).Error
	if err != nil {
		return errors.Wrapf(err, "upsert video %s", videoId)
	}

	return errors.Wrapf(
		a.db.WithContext(ctx).
			Model(&model.Video{}).
			Where("external_id = ? AND post_id IS NULL", details.ExternalId).
			Update("post_id", post.Id).Error,
		"link video %s", videoId)
}
