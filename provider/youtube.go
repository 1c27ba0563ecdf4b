package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/tubemux/tubemux/utils/log"
)

const (
	youtubeBaseURL = "https://www.googleapis.com/youtube/v3"

	// The Data API meters a daily quota, not a per-minute one.
	YouTubeWindow    = 24 * time.Hour
	YouTubeMaxUnits  = 10000
	YouTubeCacheTTL  = time.Hour
	youtubeBatchSize = 50 // hard provider limit on ids per /videos call
)

// VideoDetails is normalized video metadata from the /videos endpoint.
type VideoDetails struct {
	ExternalId      string
	Title           string
	Description     string
	ChannelId       string
	ChannelTitle    string
	ThumbnailUrl    string
	DurationSeconds int64
	ViewCount       int64
	LikeCount       int64
	PublishedAt     time.Time
}

// ChannelDetails is normalized channel metadata from the /channels endpoint.
type ChannelDetails struct {
	ExternalId        string
	Title             string
	Description       string
	ThumbnailUrl      string
	UploadsPlaylistId string
	SubscriberCount   int64
	VideoCount        int64
}

// YouTubeClient calls the Data API v3 with an API key for reads and an
// optional per-user OAuth token source for playlist writes. Read calls are
// rate-limited against the shared daily quota window and cached; the failure
// policy matches the Reddit client: structured errors, never panics.
type YouTubeClient struct {
	http    HttpClient
	limiter *RateLimiter
	cache   *ResponseCache
	apiKey  string
	baseURL string
	// feed is the quota-free fallback for channel uploads, used when the
	// shared limiter reports exhaustion.
	feed *ChannelFeed
	log  *logrus.Entry
}

func NewYouTubeClient(httpClient HttpClient, limiter *RateLimiter, cache *ResponseCache, apiKey string) *YouTubeClient {
	return &YouTubeClient{
		http:    httpClient,
		limiter: limiter,
		cache:   cache,
		apiKey:  apiKey,
		baseURL: youtubeBaseURL,
		log:     log.Log.WithField("provider", "youtube"),
	}
}

// SetBaseURL points the client at a test server.
func (c *YouTubeClient) SetBaseURL(u string) { c.baseURL = u }

// SetChannelFeed installs the RSS fallback used by GetChannelVideos when the
// daily quota is spent.
func (c *YouTubeClient) SetChannelFeed(feed *ChannelFeed) { c.feed = feed }

// GetVideoDetails fetches one video's metadata. Returns ErrNotFound when the
// id does not resolve.
func (c *YouTubeClient) GetVideoDetails(ctx context.Context, id string) (*VideoDetails, error) {
	videos, err := c.GetVideosById(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, ErrNotFound
	}
	return &videos[0], nil
}

// GetVideosById fetches metadata for a set of ids, batching in groups of 50
// (the provider's hard limit) with one rate-limited, cached call per batch.
// Results concatenate in input order; unknown ids are silently absent.
func (c *YouTubeClient) GetVideosById(ctx context.Context, ids []string) ([]VideoDetails, error) {
	var out []VideoDetails
	for start := 0; start < len(ids); start += youtubeBatchSize {
		end := start + youtubeBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		body, err := c.fetch(ctx, "/videos", map[string]string{
			"part": "snippet,contentDetails,statistics",
			"id":   strings.Join(batch, ","),
		})
		if err != nil {
			return out, err
		}

		var resp youtubeVideoListResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return out, &APIError{Provider: "youtube", Endpoint: "/videos", Message: "malformed videos payload"}
		}
		for i := range resp.Items {
			out = append(out, normalizeYoutubeVideo(&resp.Items[i]))
		}
	}
	return out, nil
}

// SearchVideos runs a two-phase search: a /search call yields candidate ids,
// then a details call enriches them. The returned slice preserves search
// ranking order.
func (c *YouTubeClient) SearchVideos(ctx context.Context, query string, maxResults int, order string) ([]VideoDetails, error) {
	params := map[string]string{
		"part":       "id",
		"type":       "video",
		"q":          query,
		"maxResults": strconv.Itoa(maxResults),
	}
	if order != "" {
		params["order"] = order
	}
	body, err := c.fetch(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var resp youtubeSearchResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &APIError{Provider: "youtube", Endpoint: "/search", Message: "malformed search payload"}
	}
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	details, err := c.GetVideosById(ctx, ids)
	if err != nil {
		return nil, err
	}
	byId := make(map[string]VideoDetails, len(details))
	for _, d := range details {
		byId[d.ExternalId] = d
	}
	// Re-walk the search ids so ranking survives the batching.
	ranked := make([]VideoDetails, 0, len(ids))
	for _, id := range ids {
		if d, ok := byId[id]; ok {
			ranked = append(ranked, d)
		}
	}
	return ranked, nil
}

// GetChannelInfo fetches one channel's metadata, including the id of its
// "uploads" playlist.
func (c *YouTubeClient) GetChannelInfo(ctx context.Context, channelId string) (*ChannelDetails, error) {
	body, err := c.fetch(ctx, "/channels", map[string]string{
		"part": "snippet,contentDetails,statistics",
		"id":   channelId,
	})
	if err != nil {
		return nil, err
	}

	var resp youtubeChannelListResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &APIError{Provider: "youtube", Endpoint: "/channels", Message: "malformed channels payload"}
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}
	item := resp.Items[0]
	return &ChannelDetails{
		ExternalId:        item.Id,
		Title:             item.Snippet.Title,
		Description:       item.Snippet.Description,
		ThumbnailUrl:      item.Snippet.Thumbnails.best(),
		UploadsPlaylistId: item.ContentDetails.RelatedPlaylists.Uploads,
		SubscriberCount:   item.Statistics.SubscriberCount,
		VideoCount:        item.Statistics.VideoCount,
	}, nil
}

// GetChannelVideos lists a channel's recent uploads with full details:
// resolve the uploads playlist, paginate it, then enrich the item ids. When
// the daily quota runs out at any step and an RSS fallback is installed, the
// most recent uploads come from the channel feed instead (no pagination
// there). The quota can be spent mid-flow, so every metered call is covered,
// not just the first.
func (c *YouTubeClient) GetChannelVideos(ctx context.Context, channelId string, maxResults int, pageToken string) ([]VideoDetails, string, error) {
	videos, nextPage, err := c.channelVideosFromAPI(ctx, channelId, maxResults, pageToken)
	if IsRateLimited(err) && c.feed != nil {
		c.log.WithField("channel_id", channelId).Warn("quota exhausted, falling back to channel feed")
		feedVideos, feedErr := c.feed.RecentUploads(ctx, channelId, maxResults)
		return feedVideos, "", feedErr
	}
	return videos, nextPage, err
}

func (c *YouTubeClient) channelVideosFromAPI(ctx context.Context, channelId string, maxResults int, pageToken string) ([]VideoDetails, string, error) {
	channel, err := c.GetChannelInfo(ctx, channelId)
	if err != nil {
		return nil, "", err
	}
	if channel.UploadsPlaylistId == "" {
		return nil, "", ErrNotFound
	}

	params := map[string]string{
		"part":       "contentDetails",
		"playlistId": channel.UploadsPlaylistId,
		"maxResults": strconv.Itoa(maxResults),
	}
	if pageToken != "" {
		params["pageToken"] = pageToken
	}
	body, err := c.fetch(ctx, "/playlistItems", params)
	if err != nil {
		return nil, "", err
	}

	var resp youtubePlaylistItemsResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, "", &APIError{Provider: "youtube", Endpoint: "/playlistItems", Message: "malformed playlistItems payload"}
	}
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}
	videos, err := c.GetVideosById(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	return videos, resp.NextPageToken, nil
}

// CreatePlaylist creates a playlist on the user's channel. Requires a user
// OAuth credential; fails fast with ErrAuthRequired otherwise. Returns the
// remote playlist id.
func (c *YouTubeClient) CreatePlaylist(ctx context.Context, ts oauth2.TokenSource, title, description, privacyStatus string) (string, error) {
	payload := map[string]interface{}{
		"snippet": map[string]string{"title": title, "description": description},
		"status":  map[string]string{"privacyStatus": privacyStatus},
	}
	var resp struct {
		Id string `json:"id"`
	}
	if err := c.post(ctx, ts, "/playlists", map[string]string{"part": "snippet,status"}, payload, &resp); err != nil {
		return "", err
	}
	return resp.Id, nil
}

// AddVideoToPlaylist appends a video to a remote playlist. Requires a user
// OAuth credential.
func (c *YouTubeClient) AddVideoToPlaylist(ctx context.Context, ts oauth2.TokenSource, playlistId, videoId string) error {
	payload := map[string]interface{}{
		"snippet": map[string]interface{}{
			"playlistId": playlistId,
			"resourceId": map[string]string{"kind": "youtube#video", "videoId": videoId},
		},
	}
	return c.post(ctx, ts, "/playlistItems", map[string]string{"part": "snippet"}, payload, nil)
}

// ListMySubscriptions fetches the authenticated user's channel subscriptions,
// following pagination to the end. Requires a user OAuth credential.
func (c *YouTubeClient) ListMySubscriptions(ctx context.Context, ts oauth2.TokenSource) ([]ChannelDetails, error) {
	if ts == nil {
		return nil, ErrAuthRequired
	}
	var out []ChannelDetails
	pageToken := ""
	for {
		params := map[string]string{
			"part":       "snippet",
			"mine":       "true",
			"maxResults": "50",
		}
		if pageToken != "" {
			params["pageToken"] = pageToken
		}
		var resp youtubeSubscriptionListResponse
		if err := c.authedGet(ctx, ts, "/subscriptions", params, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			out = append(out, ChannelDetails{
				ExternalId:   item.Snippet.ResourceId.ChannelId,
				Title:        item.Snippet.Title,
				Description:  item.Snippet.Description,
				ThumbnailUrl: item.Snippet.Thumbnails.best(),
			})
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// fetch performs a key-authenticated GET through the cache and rate limiter,
// returning the raw body. Cache hits bypass the limiter entirely.
func (c *YouTubeClient) fetch(ctx context.Context, endpoint string, params map[string]string) (string, error) {
	key := CacheKey("youtube", endpoint, params)
	if body, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.WithField("endpoint", endpoint).Warn("cache lookup failed: ", err)
	} else if ok {
		return body, nil
	}

	if c.limiter != nil {
		if err := c.limiter.CheckAndIncrement(ctx); err != nil {
			return "", err
		}
	}

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	uri := c.baseURL + endpoint + "?" + q.Encode()

	resp, err := c.http.Get(ctx, uri)
	if err != nil {
		return "", &APIError{Provider: "youtube", Endpoint: endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Provider: "youtube", Endpoint: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	body := string(raw)
	if err := c.cache.Put(ctx, key, body); err != nil {
		c.log.WithField("endpoint", endpoint).Warn("cache store failed: ", err)
	}
	return body, nil
}

// authedGet performs an OAuth-authenticated GET. User-scoped reads are never
// cached: they are per-user data, not shared reference data.
func (c *YouTubeClient) authedGet(ctx context.Context, ts oauth2.TokenSource, endpoint string, params map[string]string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.CheckAndIncrement(ctx); err != nil {
			return err
		}
	}
	token, err := ts.Token()
	if err != nil {
		return errors.Wrap(ErrAuthRequired, err.Error())
	}

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return &APIError{Provider: "youtube", Endpoint: endpoint, Message: err.Error()}
	}
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Provider: "youtube", Endpoint: endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: "youtube", Endpoint: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return json.Unmarshal(raw, out)
}

// post performs an OAuth-authenticated mutation. Mutations bypass the cache
// and still consume rate-limit budget.
func (c *YouTubeClient) post(ctx context.Context, ts oauth2.TokenSource, endpoint string, params map[string]string, payload interface{}, out interface{}) error {
	if ts == nil {
		return ErrAuthRequired
	}
	if c.limiter != nil {
		if err := c.limiter.CheckAndIncrement(ctx); err != nil {
			return err
		}
	}
	token, err := ts.Token()
	if err != nil {
		return errors.Wrap(ErrAuthRequired, err.Error())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint+"?"+q.Encode(), strings.NewReader(string(body)))
	if err != nil {
		return &APIError{Provider: "youtube", Endpoint: endpoint, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Provider: "youtube", Endpoint: endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: "youtube", Endpoint: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration converts an ISO-8601 duration like "PT4M30S" into total
// seconds. An empty or unparseable duration yields 0.
func ParseISODuration(s string) int64 {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	days, _ := strconv.ParseInt(m[1], 10, 64)
	hours, _ := strconv.ParseInt(m[2], 10, 64)
	minutes, _ := strconv.ParseInt(m[3], 10, 64)
	seconds, _ := strconv.ParseInt(m[4], 10, 64)
	return days*86400 + hours*3600 + minutes*60 + seconds
}

// Wire shapes of the Data API endpoints.

type youtubeThumbnails struct {
	High    *youtubeThumbnail `json:"high"`
	Medium  *youtubeThumbnail `json:"medium"`
	Default *youtubeThumbnail `json:"default"`
}

type youtubeThumbnail struct {
	Url string `json:"url"`
}

func (t youtubeThumbnails) best() string {
	for _, thumb := range []*youtubeThumbnail{t.High, t.Medium, t.Default} {
		if thumb != nil && thumb.Url != "" {
			return thumb.Url
		}
	}
	return ""
}

type youtubeVideoItem struct {
	Id      string `json:"id"`
	Snippet struct {
		Title        string            `json:"title"`
		Description  string            `json:"description"`
		ChannelId    string            `json:"channelId"`
		ChannelTitle string            `json:"channelTitle"`
		PublishedAt  string            `json:"publishedAt"`
		Thumbnails   youtubeThumbnails `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails *struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount string `json:"viewCount"`
		LikeCount string `json:"likeCount"`
	} `json:"statistics"`
}

type youtubeVideoListResponse struct {
	Items []youtubeVideoItem `json:"items"`
}

type youtubeSearchResponse struct {
	Items []struct {
		Id struct {
			VideoId string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type youtubeChannelListResponse struct {
	Items []struct {
		Id      string `json:"id"`
		Snippet struct {
			Title       string            `json:"title"`
			Description string            `json:"description"`
			Thumbnails  youtubeThumbnails `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
		Statistics struct {
			SubscriberCount int64 `json:"subscriberCount,string"`
			VideoCount      int64 `json:"videoCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}

type youtubePlaylistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ContentDetails struct {
			VideoId string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type youtubeSubscriptionListResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			ResourceId  struct {
				ChannelId string `json:"channelId"`
			} `json:"resourceId"`
			Thumbnails youtubeThumbnails `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

func normalizeYoutubeVideo(item *youtubeVideoItem) VideoDetails {
	d := VideoDetails{
		ExternalId:   item.Id,
		Title:        item.Snippet.Title,
		Description:  item.Snippet.Description,
		ChannelId:    item.Snippet.ChannelId,
		ChannelTitle: item.Snippet.ChannelTitle,
		ThumbnailUrl: item.Snippet.Thumbnails.best(),
	}
	// Absent contentDetails yields a zero duration.
	if item.ContentDetails != nil {
		d.DurationSeconds = ParseISODuration(item.ContentDetails.Duration)
	}
	d.ViewCount, _ = strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
	d.LikeCount, _ = strconv.ParseInt(item.Statistics.LikeCount, 10, 64)
	if item.Snippet.PublishedAt != "" {
		if ts, err := dateparse.ParseAny(item.Snippet.PublishedAt); err == nil {
			d.PublishedAt = ts.UTC()
		}
	}
	return d
}
