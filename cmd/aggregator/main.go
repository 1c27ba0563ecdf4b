package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tubemux/tubemux/aggregator"
	"github.com/tubemux/tubemux/provider"
	"github.com/tubemux/tubemux/utils"
	"github.com/tubemux/tubemux/utils/dotenv"
	"github.com/tubemux/tubemux/utils/flag"
	"github.com/tubemux/tubemux/utils/log"
)

const (
	jobLockName = "aggregate_content"
	// Generous upper bound on one run; the lock is released explicitly on a
	// clean exit, the TTL only covers crashes.
	jobLockTTL = 30 * time.Minute
)

var (
	configPath     = goflag.String("config", "", "path to a yaml job config")
	timeframe      = goflag.String("timeframe", "", "reddit listing timeframe (hour/day/week/month/year/all)")
	limit          = goflag.Int("limit", 0, "posts fetched per listing")
	subreddits     = goflag.String("subreddits", "", "comma separated subreddits, empty means the sitewide popular listing")
	updateTrending = goflag.Bool("update-trending", false, "run the trending sweep after aggregation")
)

// validTimeframes are the listing timeframes the provider accepts.
var validTimeframes = []string{"hour", "day", "week", "month", "year", "all"}

// JobConfig is the yaml job description. Command line flags override any
// value set here.
type JobConfig struct {
	Subreddits []string `yaml:"subreddits"`
	Timeframe  string   `yaml:"timeframe"`
	Limit      int      `yaml:"limit"`
	Trending   struct {
		ViewThreshold int64 `yaml:"view_threshold"`
		LikeThreshold int64 `yaml:"like_threshold"`
		DayRange      int   `yaml:"day_range"`
	} `yaml:"trending"`
}

func defaultJobConfig() JobConfig {
	cfg := JobConfig{Timeframe: "day", Limit: 25}
	cfg.Trending.ViewThreshold = aggregator.DefaultTrendingViewThreshold
	cfg.Trending.LikeThreshold = aggregator.DefaultTrendingLikeThreshold
	cfg.Trending.DayRange = aggregator.DefaultTrendingDayRange
	return cfg
}

func loadJobConfig() (JobConfig, error) {
	cfg := defaultJobConfig()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", *configPath, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", *configPath, err)
		}
	}
	if *timeframe != "" {
		cfg.Timeframe = *timeframe
	}
	if *limit > 0 {
		cfg.Limit = *limit
	}
	if *subreddits != "" {
		cfg.Subreddits = nil
		for _, s := range strings.Split(*subreddits, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				cfg.Subreddits = append(cfg.Subreddits, trimmed)
			}
		}
	}
	cfg.Subreddits = utils.DedupStrings(cfg.Subreddits)
	if !utils.ContainsString(validTimeframes, cfg.Timeframe) {
		return cfg, fmt.Errorf("unknown timeframe %q, want one of %s", cfg.Timeframe, strings.Join(validTimeframes, "/"))
	}
	return cfg, nil
}

func main() {
	goflag.Parse()
	flag.ServiceName = flag.Aggregator
	log.InitLogger()

	if err := dotenv.LoadDotEnvs(); err != nil {
		log.Log.Fatal("cannot load env files: ", err)
	}

	cfg, err := loadJobConfig()
	if err != nil {
		log.Log.Fatal("invalid job config: ", err)
	}

	db, err := utils.GetDBConnection()
	if err != nil {
		log.Log.Fatal("cannot connect to database: ", err)
	}
	if err := utils.DatabaseSetupAndMigration(db); err != nil {
		log.Log.Fatal("cannot migrate database: ", err)
	}

	redisClient, err := utils.GetRedisClient()
	if err != nil {
		log.Log.Fatal("cannot connect to redis: ", err)
	}

	ctx := context.Background()

	// Scheduler entrypoints can fire while the previous run is still going;
	// the second run is skipped, not queued.
	lock := utils.NewJobLock(redisClient)
	acquired, err := lock.Acquire(ctx, jobLockName, jobLockTTL)
	if err != nil {
		log.Log.Fatal("cannot acquire job lock: ", err)
	}
	if !acquired {
		log.Log.Info("another aggregation run is in progress, exiting")
		return
	}
	defer func() {
		if err := lock.Release(ctx, jobLockName); err != nil {
			log.Log.Error("cannot release job lock: ", err)
		}
	}()

	counters := utils.NewRedisCounterStore(redisClient)
	cache := utils.NewRedisCacheStore(redisClient)
	httpClient := provider.HttpClient{UserAgent: "tubemux/1.0", Timeout: 15 * time.Second}

	reddit := provider.NewRedditClient(
		httpClient,
		provider.NewRateLimiter(counters, "reddit", provider.RedditWindow, provider.RedditMaxRequests),
		provider.NewResponseCache(cache, provider.RedditCacheTTL),
	)
	youtube := provider.NewYouTubeClient(
		httpClient,
		provider.NewRateLimiter(counters, "youtube", provider.YouTubeWindow, provider.YouTubeMaxUnits),
		provider.NewResponseCache(cache, provider.YouTubeCacheTTL),
		os.Getenv("YOUTUBE_API_KEY"),
	)
	youtube.SetChannelFeed(provider.NewChannelFeed())

	agg := aggregator.NewContentAggregator(db, reddit, youtube)
	stats := agg.AggregateContent(ctx, cfg.Subreddits, cfg.Timeframe, cfg.Limit)
	fmt.Println(stats.String())
	for _, e := range stats.Errors {
		log.Log.Warn(e)
	}

	if *updateTrending {
		changed := agg.UpdateTrendingVideos(ctx, cfg.Trending.ViewThreshold, cfg.Trending.LikeThreshold, cfg.Trending.DayRange)
		fmt.Printf("trending_updated=%d\n", changed)
	}
}
