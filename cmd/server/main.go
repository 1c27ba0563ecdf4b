package main

import (
	goflag "flag"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tubemux/tubemux/playlist"
	"github.com/tubemux/tubemux/provider"
	"github.com/tubemux/tubemux/server"
	"github.com/tubemux/tubemux/subscription"
	"github.com/tubemux/tubemux/utils"
	"github.com/tubemux/tubemux/utils/dotenv"
	"github.com/tubemux/tubemux/utils/flag"
	"github.com/tubemux/tubemux/utils/log"
)

const defaultPort = "8080"

func main() {
	goflag.Parse()
	flag.ServiceName = flag.APIServer
	log.InitLogger()

	if !flag.IsDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := dotenv.LoadDotEnvs(); err != nil {
		log.Log.Fatal("cannot load env files: ", err)
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
	counters := utils.NewRedisCounterStore(redisClient)
	cache := utils.NewRedisCacheStore(redisClient)

	httpClient := provider.HttpClient{UserAgent: "tubemux/1.0", Timeout: 15 * time.Second}
	youtube := provider.NewYouTubeClient(
		httpClient,
		provider.NewRateLimiter(counters, "youtube", provider.YouTubeWindow, provider.YouTubeMaxUnits),
		provider.NewResponseCache(cache, provider.YouTubeCacheTTL),
		os.Getenv("YOUTUBE_API_KEY"),
	)
	youtube.SetChannelFeed(provider.NewChannelFeed())

	srv := server.NewServer(db, playlist.NewGenerator(db, youtube), subscription.NewService(db, youtube))
	router := srv.NewRouter()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	log.Log.Info("api server starts up on :", port)
	if err := router.Run(":" + port); err != nil {
		log.Log.Fatal("api server exited: ", err)
	}
}
