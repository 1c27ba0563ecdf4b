package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestExtractYoutubeId(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ?rel=0", "dQw4w9WgXcQ"},
		{"https://www.example.com", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractYoutubeId(tc.url), "url: %s", tc.url)
	}
}

func TestExtractEmbedYoutubeId(t *testing.T) {
	// The oembed html arrives escaped inside the JSON payload.
	escaped := `&lt;iframe width=&quot;600&quot; height=&quot;338&quot; src=&quot;https://www.youtube.com/embed/dQw4w9WgXcQ?feature=oembed&quot; frameborder=&quot;0&quot;&gt;&lt;/iframe&gt;`
	assert.Equal(t, "dQw4w9WgXcQ", extractEmbedYoutubeId(escaped))

	plain := `<iframe src="https://www.youtube.com/embed/abc_123-XYZ"></iframe>`
	assert.Equal(t, "abc_123-XYZ", extractEmbedYoutubeId(plain))

	assert.Equal(t, "", extractEmbedYoutubeId(""))
	assert.Equal(t, "", extractEmbedYoutubeId(`<iframe src="https://vimeo.com/123"></iframe>`))
}

const redditListingFixture = `{
	"data": {
		"after": "t3_next",
		"children": [
			{"kind": "t3", "data": {
				"id": "abc1",
				"subreddit": "videos",
				"title": "a linked video",
				"author": "alice",
				"permalink": "/r/videos/comments/abc1/a_linked_video/",
				"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
				"score": 1200,
				"num_comments": 45,
				"created_utc": 1714500000
			}},
			{"kind": "t3", "data": {
				"id": "abc2",
				"subreddit": "videos",
				"title": "an embedded video",
				"author": "bob",
				"permalink": "/r/videos/comments/abc2/an_embedded_video/",
				"url": "https://example.com/article",
				"score": 300,
				"num_comments": 10,
				"created_utc": 1714500100,
				"secure_media": {
					"type": "youtube.com",
					"oembed": {"html": "&lt;iframe src=&quot;https://www.youtube.com/embed/xyz789AB-_c?feature=oembed&quot;&gt;&lt;/iframe&gt;"}
				}
			}},
			{"kind": "t3", "data": {
				"id": "abc3",
				"subreddit": "videos",
				"title": "a text post",
				"author": "carol",
				"selftext": "just words",
				"permalink": "/r/videos/comments/abc3/a_text_post/",
				"url": "https://www.reddit.com/r/videos/comments/abc3/a_text_post/",
				"score": 77,
				"num_comments": 3,
				"created_utc": 1714500200
			}}
		]
	}
}`

func newTestRedditClient(t *testing.T, serverURL string, store *MemoryCounterStore, cacheStore *MemoryCacheStore) *RedditClient {
	t.Helper()
	var limiter *RateLimiter
	if store != nil {
		limiter = NewRateLimiter(store, "reddit", RedditWindow, RedditMaxRequests)
	}
	var cache *ResponseCache
	if cacheStore != nil {
		cache = NewResponseCache(cacheStore, RedditCacheTTL)
	}
	client := NewRedditClient(HttpClient{UserAgent: "tubemux-test", Timeout: 5 * time.Second}, limiter, cache)
	client.SetBaseURL(serverURL)
	// No pacing in tests.
	client.pacer = rate.NewLimiter(rate.Inf, 1)
	return client
}

func TestGetSubredditPostsNormalization(t *testing.T) {
	var gotPath, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, redditListingFixture)
	}))
	defer server.Close()

	client := newTestRedditClient(t, server.URL, NewMemoryCounterStore(), nil)
	posts, after, err := client.GetSubredditPosts(context.Background(), "videos", "hot", "day", 25, "")
	require.NoError(t, err)

	assert.Equal(t, "/r/videos/hot.json", gotPath)
	assert.Equal(t, "tubemux-test", gotUA)
	assert.Equal(t, "t3_next", after)
	require.Len(t, posts, 3)

	// URL-pattern detection.
	want := RedditPost{
		ExternalId:      "abc1",
		Subreddit:       "videos",
		Title:           "a linked video",
		Author:          "alice",
		Permalink:       "https://www.reddit.com/r/videos/comments/abc1/a_linked_video/",
		Url:             "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Score:           1200,
		NumComments:     45,
		HasYoutubeVideo: true,
		YoutubeVideoId:  "dQw4w9WgXcQ",
		PostedAt:        time.Unix(1714500000, 0).UTC(),
	}
	if diff := cmp.Diff(want, posts[0]); diff != "" {
		t.Errorf("normalized post mismatch (-want +got):\n%s", diff)
	}

	// secure_media embed detection.
	assert.True(t, posts[1].HasYoutubeVideo)
	assert.Equal(t, "xyz789AB-_c", posts[1].YoutubeVideoId)

	// Plain text post is not flagged.
	assert.False(t, posts[2].HasYoutubeVideo)
	assert.Equal(t, "", posts[2].YoutubeVideoId)
	assert.Equal(t, "just words", posts[2].Body)
}

func TestGetPopularPostsEndpoint(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, redditListingFixture)
	}))
	defer server.Close()

	client := newTestRedditClient(t, server.URL, nil, nil)
	posts, _, err := client.GetPopularPosts(context.Background(), "day", 25, "")
	require.NoError(t, err)
	assert.Equal(t, "/r/popular.json", gotPath)
	assert.Len(t, posts, 3)
}

func TestRedditCacheHitSkipsRateLimit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, redditListingFixture)
	}))
	defer server.Close()

	store := NewMemoryCounterStore()
	client := newTestRedditClient(t, server.URL, store, NewMemoryCacheStore())

	ctx := context.Background()
	_, _, err := client.GetSubredditPosts(ctx, "videos", "hot", "day", 25, "")
	require.NoError(t, err)
	_, _, err = client.GetSubredditPosts(ctx, "videos", "hot", "day", 25, "")
	require.NoError(t, err)

	// Second call is served from cache: one HTTP request, one unit of budget.
	assert.Equal(t, 1, requests)
	key := "reddit:" + time.Now().UTC().Format("200601021504")
	assert.LessOrEqual(t, store.Count(key), int64(1))
}

func TestRedditServerErrorIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestRedditClient(t, server.URL, nil, nil)
	posts, _, err := client.GetSubredditPosts(context.Background(), "videos", "hot", "day", 25, "")
	require.Error(t, err)
	assert.Empty(t, posts)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Transient())
}

func TestRedditNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestRedditClient(t, server.URL, nil, nil)
	_, _, err := client.GetSubredditPosts(context.Background(), "doesnotexist", "hot", "", 25, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

const redditCommentsFixture = `[
	{"data": {"children": [
		{"kind": "t3", "data": {
			"id": "abc1",
			"subreddit": "videos",
			"title": "a linked video",
			"author": "alice",
			"permalink": "/r/videos/comments/abc1/",
			"url": "https://youtu.be/dQw4w9WgXcQ",
			"score": 10,
			"num_comments": 2,
			"created_utc": 1714500000
		}}
	]}},
	{"data": {"children": [
		{"kind": "t1", "data": {
			"id": "c1", "author": "bob", "body": "first", "score": 5,
			"replies": {"data": {"children": [
				{"kind": "t1", "data": {"id": "c2", "author": "carol", "body": "nested", "score": 2, "replies": ""}},
				{"kind": "more", "data": {"id": "m1"}}
			]}}
		}},
		{"kind": "more", "data": {"id": "m2"}}
	]}}
]`

func TestGetPostDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/comments/abc1.json", r.URL.Path)
		fmt.Fprint(w, redditCommentsFixture)
	}))
	defer server.Close()

	client := newTestRedditClient(t, server.URL, nil, nil)
	post, comments, err := client.GetPostDetails(context.Background(), "abc1")
	require.NoError(t, err)

	assert.Equal(t, "abc1", post.ExternalId)
	assert.True(t, post.HasYoutubeVideo)
	assert.Equal(t, "dQw4w9WgXcQ", post.YoutubeVideoId)

	// "more" placeholders are skipped at both levels.
	require.Len(t, comments, 1)
	assert.Equal(t, "first", comments[0].Body)
	require.Len(t, comments[0].Replies, 1)
	assert.Equal(t, "nested", comments[0].Replies[0].Body)
	assert.Empty(t, comments[0].Replies[0].Replies)
}
