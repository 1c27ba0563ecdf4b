package aggregator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tubemux/tubemux/model"
)

// Default sweep thresholds, overridable through the job config.
const (
	DefaultTrendingViewThreshold = int64(100000)
	DefaultTrendingLikeThreshold = int64(5000)
	DefaultTrendingDayRange      = 7
)

// UpdateTrendingVideos flips is_trending on every video published within the
// last dayRange days whose view and like counts both meet their thresholds
// and which is not already marked. One bulk update, returns rows changed.
// This sweep is the only writer of the trending flag; playlist generation
// only consumes it. Any failure is logged and reported as 0, never raised.
func (a *ContentAggregator) UpdateTrendingVideos(ctx context.Context, viewThreshold, likeThreshold int64, dayRange int) int64 {
	cutoff := time.Now().UTC().AddDate(0, 0, -dayRange)

	res := a.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("published_at >= ?", cutoff).
		Where("view_count >= ? AND like_count >= ?", viewThreshold, likeThreshold).
		Where("is_trending = ?", false).
		Update("is_trending", true)
	if res.Error != nil {
		a.log.WithFields(logrus.Fields{
			"view_threshold": viewThreshold,
			"like_threshold": likeThreshold,
			"day_range":      dayRange,
		}).Error("trending sweep failed: ", res.Error)
		return 0
	}
	return res.RowsAffected
}
