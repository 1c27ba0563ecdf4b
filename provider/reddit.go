package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tubemux/tubemux/utils/log"
)

const (
	redditBaseURL = "https://www.reddit.com"

	// Unauthenticated listing endpoints allow 60 requests per minute.
	RedditWindow      = time.Minute
	RedditMaxRequests = 60

	// Listings go stale quickly, keep the cache short.
	RedditCacheTTL = 5 * time.Minute

	redditDefaultLimit = 25
)

// RedditPost is the canonical shape a heterogeneous listing child is
// normalized into. YoutubeVideoId is only set when HasYoutubeVideo.
type RedditPost struct {
	ExternalId      string
	Subreddit       string
	Title           string
	Body            string
	Author          string
	Permalink       string
	Url             string
	Score           int64
	NumComments     int64
	HasYoutubeVideo bool
	YoutubeVideoId  string
	PostedAt        time.Time
}

// RedditComment is a flattened comment tree node. "more" placeholder nodes
// are skipped during resolution.
type RedditComment struct {
	ExternalId string
	Author     string
	Body       string
	Score      int64
	Replies    []RedditComment
}

// RedditClient fetches public listing endpoints. Every call runs the same
// sequence: local pacing, shared rate-limit check, cache lookup, HTTP fetch,
// normalization. A cache hit skips both the HTTP call and the rate-limit
// increment.
type RedditClient struct {
	http    HttpClient
	limiter *RateLimiter
	cache   *ResponseCache
	pacer   *rate.Limiter
	baseURL string
	log     *logrus.Entry
}

func NewRedditClient(httpClient HttpClient, limiter *RateLimiter, cache *ResponseCache) *RedditClient {
	return &RedditClient{
		http:    httpClient,
		limiter: limiter,
		cache:   cache,
		// Smooth bursts locally so one worker cannot spend the whole shared
		// window in a single tick.
		pacer:   rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL: redditBaseURL,
		log:     log.Log.WithField("provider", "reddit"),
	}
}

// SetBaseURL points the client at a test server.
func (c *RedditClient) SetBaseURL(u string) { c.baseURL = u }

// GetPopularPosts fetches the sitewide popular listing.
func (c *RedditClient) GetPopularPosts(ctx context.Context, timeframe string, limit int, after string) ([]RedditPost, string, error) {
	return c.listing(ctx, "/r/popular.json", listingParams(timeframe, limit, after))
}

// GetSubredditPosts fetches one subreddit's listing with the given sort
// ("hot", "new", "top"...). The timeframe is passed through regardless; the
// API only honors it for "top".
func (c *RedditClient) GetSubredditPosts(ctx context.Context, subreddit, sort, timeframe string, limit int, after string) ([]RedditPost, string, error) {
	if sort == "" {
		sort = "hot"
	}
	endpoint := fmt.Sprintf("/r/%s/%s.json", url.PathEscape(subreddit), url.PathEscape(sort))
	return c.listing(ctx, endpoint, listingParams(timeframe, limit, after))
}

// GetPostDetails fetches a single post with its resolved comment tree.
func (c *RedditClient) GetPostDetails(ctx context.Context, postId string) (*RedditPost, []RedditComment, error) {
	endpoint := fmt.Sprintf("/comments/%s.json", url.PathEscape(postId))
	body, err := c.fetch(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}

	// The comments endpoint returns a two-element array: the post listing
	// followed by the comment listing.
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil || len(parts) < 2 {
		return nil, nil, &APIError{Provider: "reddit", Endpoint: endpoint, Message: "malformed comments payload"}
	}

	var postListing redditListing
	if err := json.Unmarshal(parts[0], &postListing); err != nil || len(postListing.Data.Children) == 0 {
		return nil, nil, ErrNotFound
	}
	post := normalizeRedditPost(&postListing.Data.Children[0].Data)

	var commentListing redditCommentListing
	if err := json.Unmarshal(parts[1], &commentListing); err != nil {
		return &post, nil, nil
	}
	return &post, buildCommentTree(commentListing.Data.Children), nil
}

func (c *RedditClient) listing(ctx context.Context, endpoint string, params map[string]string) ([]RedditPost, string, error) {
	body, err := c.fetch(ctx, endpoint, params)
	if err != nil {
		return nil, "", err
	}

	var listing redditListing
	if err := json.Unmarshal([]byte(body), &listing); err != nil {
		return nil, "", &APIError{Provider: "reddit", Endpoint: endpoint, Message: "malformed listing payload"}
	}

	posts := make([]RedditPost, 0, len(listing.Data.Children))
	for i := range listing.Data.Children {
		posts = append(posts, normalizeRedditPost(&listing.Data.Children[i].Data))
	}
	c.log.WithFields(logrus.Fields{
		"endpoint":   endpoint,
		"post_count": len(posts),
		"after":      listing.Data.After,
	}).Info("fetched reddit listing")
	return posts, listing.Data.After, nil
}

// fetch returns the raw response body for endpoint+params, from cache when
// fresh.
func (c *RedditClient) fetch(ctx context.Context, endpoint string, params map[string]string) (string, error) {
	key := CacheKey("reddit", endpoint, params)
	if body, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.WithField("endpoint", endpoint).Warn("cache lookup failed: ", err)
	} else if ok {
		return body, nil
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return "", &APIError{Provider: "reddit", Endpoint: endpoint, Message: err.Error()}
	}
	if c.limiter != nil {
		if err := c.limiter.CheckAndIncrement(ctx); err != nil {
			return "", err
		}
	}

	uri := c.baseURL + endpoint
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		uri += "?" + q.Encode()
	}

	resp, err := c.http.Get(ctx, uri)
	if err != nil {
		return "", &APIError{Provider: "reddit", Endpoint: endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Provider: "reddit", Endpoint: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	body := string(raw)
	if err := c.cache.Put(ctx, key, body); err != nil {
		c.log.WithField("endpoint", endpoint).Warn("cache store failed: ", err)
	}
	return body, nil
}

func listingParams(timeframe string, limit int, after string) map[string]string {
	if limit <= 0 {
		limit = redditDefaultLimit
	}
	params := map[string]string{"limit": strconv.Itoa(limit)}
	if timeframe != "" {
		params["t"] = timeframe
	}
	if after != "" {
		params["after"] = after
	}
	return params
}

// Wire shapes of the listing endpoints.

type redditListing struct {
	Data struct {
		After    string        `json:"after"`
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Kind string         `json:"kind"`
	Data redditPostData `json:"data"`
}

type redditMedia struct {
	Type   string `json:"type"`
	Oembed struct {
		Html string `json:"html"`
	} `json:"oembed"`
}

type redditPostData struct {
	Id          string       `json:"id"`
	Subreddit   string       `json:"subreddit"`
	Title       string       `json:"title"`
	SelfText    string       `json:"selftext"`
	Author      string       `json:"author"`
	Permalink   string       `json:"permalink"`
	Url         string       `json:"url"`
	Score       int64        `json:"score"`
	NumComments int64        `json:"num_comments"`
	CreatedUTC  float64      `json:"created_utc"`
	Media       *redditMedia `json:"media"`
	SecureMedia *redditMedia `json:"secure_media"`
}

func normalizeRedditPost(d *redditPostData) RedditPost {
	post := RedditPost{
		ExternalId:  d.Id,
		Subreddit:   d.Subreddit,
		Title:       d.Title,
		Body:        d.SelfText,
		Author:      d.Author,
		Permalink:   redditBaseURL + d.Permalink,
		Url:         d.Url,
		Score:       d.Score,
		NumComments: d.NumComments,
		PostedAt:    time.Unix(int64(d.CreatedUTC), 0).UTC(),
	}
	post.YoutubeVideoId = extractPostYoutubeId(d)
	post.HasYoutubeVideo = post.YoutubeVideoId != ""
	return post
}

var (
	youtubeWatchRe = regexp.MustCompile(`youtube\.com/watch\?v=([A-Za-z0-9_-]+)`)
	youtubeShortRe = regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]+)`)
	youtubeEmbedRe = regexp.MustCompile(`youtube\.com/embed/([A-Za-z0-9_-]+)`)
)

// ExtractYoutubeId pulls a video id out of a watch, short or embed URL.
// Returns "" when the URL is not a YouTube link. Trailing query strings are
// excluded by the id character class.
func ExtractYoutubeId(rawUrl string) string {
	for _, re := range []*regexp.Regexp{youtubeWatchRe, youtubeShortRe, youtubeEmbedRe} {
		if m := re.FindStringSubmatch(rawUrl); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractPostYoutubeId mirrors detection: first the external URL patterns,
// then the embedded-media descriptor on both the plain and secure fields.
func extractPostYoutubeId(d *redditPostData) string {
	if id := ExtractYoutubeId(d.Url); id != "" {
		return id
	}
	for _, media := range []*redditMedia{d.Media, d.SecureMedia} {
		if media == nil || media.Type != "youtube.com" {
			continue
		}
		if id := extractEmbedYoutubeId(media.Oembed.Html); id != "" {
			return id
		}
	}
	return ""
}

// extractEmbedYoutubeId parses the oembed iframe snippet and reads the video
// id from its src attribute. The snippet arrives HTML-escaped inside the
// JSON payload.
func extractEmbedYoutubeId(embedHtml string) string {
	if embedHtml == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html.UnescapeString(embedHtml)))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("iframe").Attr("src")
	return ExtractYoutubeId(src)
}

// Comment children use kind "t1"; "more" placeholders use kind "more" and
// are skipped rather than resolved.
type redditCommentChild struct {
	Kind string `json:"kind"`
	Data struct {
		Id      string          `json:"id"`
		Author  string          `json:"author"`
		Body    string          `json:"body"`
		Score   int64           `json:"score"`
		Replies json.RawMessage `json:"replies"`
	} `json:"data"`
}

type redditCommentListing struct {
	Data struct {
		Children []redditCommentChild `json:"children"`
	} `json:"data"`
}

func buildCommentTree(children []redditCommentChild) []RedditComment {
	comments := make([]RedditComment, 0, len(children))
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		comment := RedditComment{
			ExternalId: child.Data.Id,
			Author:     child.Data.Author,
			Body:       child.Data.Body,
			Score:      child.Data.Score,
		}
		// Replies is either a nested listing or the empty string.
		if len(child.Data.Replies) > 0 && child.Data.Replies[0] == '{' {
			var nested redditCommentListing
			if err := json.Unmarshal(child.Data.Replies, &nested); err == nil {
				comment.Replies = buildCommentTree(nested.Data.Children)
			}
		}
		comments = append(comments, comment)
	}
	return comments
}
