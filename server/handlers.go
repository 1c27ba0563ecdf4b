// Package server is the REST facade over the playlist, subscription and
// content stores. Responses use a {code, msg, data} envelope; provider error
// text never leaks to clients, only the generic message and a code.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tubemux/tubemux/model"
	"github.com/tubemux/tubemux/playlist"
	"github.com/tubemux/tubemux/server/middlewares"
	"github.com/tubemux/tubemux/subscription"
	"github.com/tubemux/tubemux/utils"
	"github.com/tubemux/tubemux/utils/log"
)

const (
	defaultPostsLimit = 25
	maxPostsLimit     = 100
)

type Server struct {
	db            *gorm.DB
	generator     *playlist.Generator
	subscriptions *subscription.Service
	log           *logrus.Entry
}

func NewServer(db *gorm.DB, generator *playlist.Generator, subscriptions *subscription.Service) *Server {
	return &Server{
		db:            db,
		generator:     generator,
		subscriptions: subscriptions,
		log:           log.Log.WithField("component", "server"),
	}
}

// NewRouter wires the full route table onto a fresh gin engine.
func (s *Server) NewRouter() *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	router.GET("/healthz", s.healthz)

	api := router.Group("/api", middlewares.Auth(s.db))
	{
		api.GET("/playlists/daily", s.getDailyPlaylist)
		api.GET("/playlists/:id", s.getPlaylist)
		api.POST("/playlists/:id/items/:itemId/watch", s.markItemWatched)

		api.GET("/subscriptions", s.listSubscriptions)
		api.POST("/subscriptions", s.createSubscription)
		api.DELETE("/subscriptions/:id", s.deleteSubscription)
		api.POST("/subscriptions/sync", s.syncSubscriptions)

		api.GET("/posts", s.listPosts)
	}
	return router
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": utils.ErrorNone, "msg": "ok", "data": data})
}

func fail(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"code": code, "msg": msg})
}

// internalError logs the real cause and answers with a generic message, so
// upstream provider errors never reach the client verbatim.
func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.WithField("op", op).Error(err)
	fail(c, http.StatusInternalServerError, utils.ErrorInternal, "internal error")
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getDailyPlaylist returns today's auto playlist for the caller, generating
// it on first access of the day.
func (s *Server) getDailyPlaylist(c *gin.Context) {
	user := middlewares.GetUser(c)

	generated, err := s.generator.GenerateDailyPlaylist(c.Request.Context(), user, time.Now().UTC())
	if err != nil {
		s.internalError(c, "generate daily playlist", err)
		return
	}
	if generated == nil {
		fail(c, http.StatusNotFound, utils.ErrorNotFound, "no content available today")
		return
	}
	ok(c, generated)
}

func (s *Server) getPlaylist(c *gin.Context) {
	user := middlewares.GetUser(c)

	var found model.Playlist
	err := s.db.WithContext(c.Request.Context()).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items.Video").
		Where("id = ? AND user_id = ?", c.Param("id"), user.Id).
		First(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, utils.ErrorNotFound, "playlist not found")
		return
	}
	if err != nil {
		s.internalError(c, "load playlist", err)
		return
	}
	ok(c, &found)
}

func (s *Server) markItemWatched(c *gin.Context) {
	user := middlewares.GetUser(c)
	playlistId := c.Param("id")

	// Ownership check before touching the item.
	var count int64
	err := s.db.WithContext(c.Request.Context()).
		Model(&model.Playlist{}).
		Where("id = ? AND user_id = ?", playlistId, user.Id).
		Count(&count).Error
	if err != nil {
		s.internalError(c, "check playlist ownership", err)
		return
	}
	if count == 0 {
		fail(c, http.StatusNotFound, utils.ErrorNotFound, "playlist not found")
		return
	}

	err = s.generator.MarkItemWatched(c.Request.Context(), playlistId, c.Param("itemId"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, utils.ErrorNotFound, "item not found")
		return
	}
	if err != nil {
		s.internalError(c, "mark item watched", err)
		return
	}
	ok(c, nil)
}

func (s *Server) listSubscriptions(c *gin.Context) {
	user := middlewares.GetUser(c)

	subs, err := s.subscriptions.List(c.Request.Context(), user.Id)
	if err != nil {
		s.internalError(c, "list subscriptions", err)
		return
	}
	ok(c, subs)
}

type createSubscriptionRequest struct {
	Kind       string `json:"kind" binding:"required"`
	ExternalId string `json:"external_id" binding:"required"`
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
}

func (s *Server) createSubscription(c *gin.Context) {
	user := middlewares.GetUser(c)

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, utils.ErrorBadRequest, "kind and external_id are required")
		return
	}

	sub := &model.Subscription{
		UserID:     user.Id,
		Kind:       model.SubscriptionKind(req.Kind),
		ExternalId: req.ExternalId,
		Name:       req.Name,
		Priority:   req.Priority,
	}
	err := s.subscriptions.Create(c.Request.Context(), sub)
	switch {
	case errors.Is(err, subscription.ErrInvalidKind):
		fail(c, http.StatusBadRequest, utils.ErrorBadRequest, "invalid subscription kind")
	case errors.Is(err, subscription.ErrDuplicate):
		fail(c, http.StatusConflict, utils.ErrorDuplicate, "already subscribed")
	case err != nil:
		s.internalError(c, "create subscription", err)
	default:
		ok(c, sub)
	}
}

func (s *Server) deleteSubscription(c *gin.Context) {
	user := middlewares.GetUser(c)

	err := s.subscriptions.Delete(c.Request.Context(), user.Id, c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, utils.ErrorNotFound, "subscription not found")
		return
	}
	if err != nil {
		s.internalError(c, "delete subscription", err)
		return
	}
	ok(c, nil)
}

func (s *Server) syncSubscriptions(c *gin.Context) {
	user := middlewares.GetUser(c)

	result, err := s.subscriptions.SyncYouTube(c.Request.Context(), user)
	if err != nil {
		s.internalError(c, "sync subscriptions", err)
		return
	}
	ok(c, result)
}

// listPosts returns recent aggregated posts, newest first, optionally
// filtered to one subreddit.
func (s *Server) listPosts(c *gin.Context) {
	limit := defaultPostsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxPostsLimit {
			fail(c, http.StatusBadRequest, utils.ErrorBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	query := s.db.WithContext(c.Request.Context()).
		Preload("Video").
		Order("posted_at DESC").
		Limit(limit)
	if subreddit := c.Query("subreddit"); subreddit != "" {
		query = query.Where("subreddit = ?", subreddit)
	}

	var posts []model.Post
	if err := query.Find(&posts).Error; err != nil {
		s.internalError(c, "list posts", err)
		return
	}
	ok(c, posts)
}
