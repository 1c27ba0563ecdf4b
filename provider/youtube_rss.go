package provider

import (
	"context"
	"fmt"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
)

const channelFeedURLTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// ChannelFeed reads a channel's public Atom feed. The feed carries only the
// ~15 most recent uploads and no statistics, but it costs no API quota,
// which makes it the fallback source for recent uploads when the daily quota
// is spent.
type ChannelFeed struct {
	parser  *gofeed.Parser
	urlTmpl string
}

func NewChannelFeed() *ChannelFeed {
	return &ChannelFeed{parser: gofeed.NewParser(), urlTmpl: channelFeedURLTemplate}
}

// SetURLTemplate points the feed at a test server. The template must contain
// one %s for the channel id.
func (f *ChannelFeed) SetURLTemplate(tmpl string) { f.urlTmpl = tmpl }

// RecentUploads returns up to max of the channel's newest uploads. Duration
// and counters are zero: the feed does not carry them.
func (f *ChannelFeed) RecentUploads(ctx context.Context, channelId string, max int) ([]VideoDetails, error) {
	feed, err := f.parser.ParseURLWithContext(fmt.Sprintf(f.urlTmpl, channelId), ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "channel feed %s", channelId)
	}

	videos := make([]VideoDetails, 0, max)
	for _, item := range feed.Items {
		if len(videos) >= max {
			break
		}
		videoId := feedVideoId(item)
		if videoId == "" {
			continue
		}
		d := VideoDetails{
			ExternalId:   videoId,
			Title:        item.Title,
			Description:  item.Description,
			ChannelId:    channelId,
			ChannelTitle: feed.Title,
		}
		if item.Image != nil {
			d.ThumbnailUrl = item.Image.URL
		}
		if item.Published != "" {
			if ts, err := dateparse.ParseAny(item.Published); err == nil {
				d.PublishedAt = ts.UTC()
			}
		}
		videos = append(videos, d)
	}
	return videos, nil
}

// feedVideoId reads the yt:videoId extension, falling back to the entry link.
func feedVideoId(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]["videoId"]; ok && len(ext) > 0 {
		return ext[0].Value
	}
	return ExtractYoutubeId(item.Link)
}
