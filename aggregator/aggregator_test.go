package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubemux/tubemux/model"
	"github.com/tubemux/tubemux/provider"
	"github.com/tubemux/tubemux/utils"
)

type fakeRedditSource struct {
	popular     []provider.RedditPost
	bySubreddit map[string][]provider.RedditPost
	errs        map[string]error
}

func (f *fakeRedditSource) GetPopularPosts(ctx context.Context, timeframe string, limit int, after string) ([]provider.RedditPost, string, error) {
	return f.popular, "", nil
}

func (f *fakeRedditSource) GetSubredditPosts(ctx context.Context, subreddit, sort, timeframe string, limit int, after string) ([]provider.RedditPost, string, error) {
	if err, ok := f.errs[subreddit]; ok {
		return nil, "", err
	}
	return f.bySubreddit[subreddit], "", nil
}

type fakeVideoSource struct {
	videos map[string]*provider.VideoDetails
	calls  int
}

func (f *fakeVideoSource) GetVideoDetails(ctx context.Context, id string) (*provider.VideoDetails, error) {
	f.calls++
	if v, ok := f.videos[id]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, provider.ErrNotFound
}

func redditPost(id, subreddit string, score int64, videoId string) provider.RedditPost {
	return provider.RedditPost{
		ExternalId:      id,
		Subreddit:       subreddit,
		Title:           "title of " + id,
		Author:          "author-" + id,
		Permalink:       "https://www.reddit.com/r/" + subreddit + "/comments/" + id + "/",
		Url:             "https://www.youtube.com/watch?v=" + videoId,
		Score:           score,
		NumComments:     score / 10,
		HasYoutubeVideo: videoId != "",
		YoutubeVideoId:  videoId,
		PostedAt:        time.Now().UTC().Add(-time.Hour),
	}
}

func videoDetails(id string, views, likes int64) *provider.VideoDetails {
	return &provider.VideoDetails{
		ExternalId:      id,
		Title:           "video " + id,
		ChannelId:       "UCchan",
		ChannelTitle:    "some channel",
		DurationSeconds: 270,
		ViewCount:       views,
		LikeCount:       likes,
		PublishedAt:     time.Now().UTC().Add(-24 * time.Hour),
	}
}

func TestAggregateContentSavesPostsAndVideos(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	reddit := &fakeRedditSource{
		bySubreddit: map[string][]provider.RedditPost{
			"videos": {
				redditPost("p1", "videos", 100, "v1"),
				redditPost("p2", "videos", 50, ""),
			},
		},
	}
	youtube := &fakeVideoSource{videos: map[string]*provider.VideoDetails{"v1": videoDetails("v1", 1000, 100)}}

	agg := NewContentAggregator(db, reddit, youtube)
	stats := agg.AggregateContent(context.Background(), []string{"videos"}, "day", 25)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.SavedPosts)
	assert.Equal(t, 1, stats.SavedVideos)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 2, stats.PerSubreddit["videos"].Processed)

	var video model.Video
	require.NoError(t, db.Where("external_id = ?", "v1").First(&video).Error)
	require.NotNil(t, video.PostID)
	var post model.Post
	require.NoError(t, db.Where("external_id = ?", "p1").First(&post).Error)
	assert.Equal(t, post.Id, *video.PostID)
}

func TestAggregateContentIdempotentUpsert(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	first := redditPost("p1", "videos", 100, "")
	reddit := &fakeRedditSource{bySubreddit: map[string][]provider.RedditPost{"videos": {first}}}
	agg := NewContentAggregator(db, reddit, &fakeVideoSource{})

	ctx := context.Background()
	agg.AggregateContent(ctx, []string{"videos"}, "day", 25)

	var original model.Post
	require.NoError(t, db.Where("external_id = ?", "p1").First(&original).Error)

	// Re-fetch with a fresher score and a mutated title. Only the mutable
	// fields may change.
	updated := first
	updated.Score = 999
	updated.NumComments = 80
	updated.Title = "edited title that must not stick"
	reddit.bySubreddit["videos"] = []provider.RedditPost{updated}
	agg.AggregateContent(ctx, []string{"videos"}, "day", 25)

	var count int64
	db.Model(&model.Post{}).Where("external_id = ?", "p1").Count(&count)
	assert.Equal(t, int64(1), count)

	var reloaded model.Post
	require.NoError(t, db.Where("external_id = ?", "p1").First(&reloaded).Error)
	assert.Equal(t, original.Id, reloaded.Id)
	assert.Equal(t, int64(999), reloaded.Score)
	assert.Equal(t, int64(80), reloaded.NumComments)
	assert.Equal(t, "title of p1", reloaded.Title)
	assert.Equal(t, "author-p1", reloaded.Author)
}

func TestVideoLinkFirstWriterWins(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	youtube := &fakeVideoSource{videos: map[string]*provider.VideoDetails{"v1": videoDetails("v1", 1000, 100)}}
	reddit := &fakeRedditSource{bySubreddit: map[string][]provider.RedditPost{
		"videos": {redditPost("postA", "videos", 100, "v1")},
	}}
	agg := NewContentAggregator(db, reddit, youtube)

	ctx := context.Background()
	agg.AggregateContent(ctx, []string{"videos"}, "day", 25)

	var postA model.Post
	require.NoError(t, db.Where("external_id = ?", "postA").First(&postA).Error)

	// The same video resurfaces in an unrelated post.
	reddit.bySubreddit["videos"] = []provider.RedditPost{redditPost("postB", "videos", 10, "v1")}
	agg.AggregateContent(ctx, []string{"videos"}, "day", 25)

	var video model.Video
	require.NoError(t, db.Where("external_id = ?", "v1").First(&video).Error)
	require.NotNil(t, video.PostID)
	assert.Equal(t, postA.Id, *video.PostID)

	var count int64
	db.Model(&model.Video{}).Where("external_id = ?", "v1").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAggregateContentPartialFailure(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	reddit := &fakeRedditSource{
		bySubreddit: map[string][]provider.RedditPost{
			"golang": {redditPost("g1", "golang", 10, "")},
			"videos": {redditPost("m1", "videos", 20, "")},
		},
		errs: map[string]error{
			"broken": &provider.APIError{Provider: "reddit", Endpoint: "/r/broken/hot.json", StatusCode: 502, Message: "bad gateway"},
		},
	}
	agg := NewContentAggregator(db, reddit, &fakeVideoSource{})

	stats := agg.AggregateContent(context.Background(), []string{"golang", "broken", "videos"}, "day", 25)

	// The failed subreddit contributes exactly one error; the others save.
	assert.Equal(t, 2, stats.SavedPosts)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "broken")

	var count int64
	db.Model(&model.Post{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestAggregateContentPopularFallback(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	reddit := &fakeRedditSource{popular: []provider.RedditPost{redditPost("pop1", "funny", 500, "")}}
	agg := NewContentAggregator(db, reddit, &fakeVideoSource{})

	stats := agg.AggregateContent(context.Background(), nil, "day", 25)
	assert.Equal(t, 1, stats.SavedPosts)
	assert.Contains(t, stats.PerSubreddit, PopularListing)
}

func TestAggregateContentVideoFetchFailureKeepsPost(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	reddit := &fakeRedditSource{bySubreddit: map[string][]provider.RedditPost{
		"videos": {redditPost("p1", "videos", 100, "missing")},
	}}
	agg := NewContentAggregator(db, reddit, &fakeVideoSource{})

	stats := agg.AggregateContent(context.Background(), []string{"videos"}, "day", 25)
	assert.Equal(t, 1, stats.SavedPosts)
	assert.Equal(t, 0, stats.SavedVideos)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "missing")

	var count int64
	db.Model(&model.Post{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpdateTrendingVideos(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	agg := NewContentAggregator(db, &fakeRedditSource{}, &fakeVideoSource{})

	now := time.Now().UTC()
	seed := []model.Video{
		{Id: "1", ExternalId: "hot", ViewCount: 200000, LikeCount: 9000, PublishedAt: now.Add(-48 * time.Hour)},
		{Id: "2", ExternalId: "old", ViewCount: 200000, LikeCount: 9000, PublishedAt: now.AddDate(0, 0, -30)},
		{Id: "3", ExternalId: "cold", ViewCount: 10, LikeCount: 1, PublishedAt: now.Add(-48 * time.Hour)},
		{Id: "4", ExternalId: "done", ViewCount: 200000, LikeCount: 9000, PublishedAt: now.Add(-48 * time.Hour), IsTrending: true},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	changed := agg.UpdateTrendingVideos(context.Background(), 100000, 5000, 7)
	assert.Equal(t, int64(1), changed)

	var trending []model.Video
	require.NoError(t, db.Where("is_trending = ?", true).Order("external_id").Find(&trending).Error)
	require.Len(t, trending, 2)
	assert.Equal(t, "done", trending[0].ExternalId)
	assert.Equal(t, "hot", trending[1].ExternalId)
}
