package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/models"
	"github.com/Martian-dev/mailsync/internal/store"
	"github.com/Martian-dev/mailsync/internal/sync"
)

const (
	defaultEmailLimit = 100
	defaultRunLimit   = 20
	maxLimit          = 1000
)

// Store is the read side of the email store
type Store interface {
	MaxDateReceived(ctx context.Context) (int64, bool, error)
	CountEmails(ctx context.Context) (int, error)
	GetEmail(ctx context.Context, messageID string) (*models.Email, error)
	ListEmails(ctx context.Context, f store.EmailFilter) ([]models.Email, error)
	ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

// Server serves the operator API for one mailbox
type Server struct {
	Store   Store
	Manager *sync.Manager
	Syncer  sync.Syncer
	Mailbox string
	// Verifier authenticates requests; nil leaves the API open
	Verifier auth.Verifier
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)

	authorized := r.Group("/")
	if s.Verifier != nil {
		authorized.Use(authMiddleware(s.Verifier))
	}

	authorized.GET("/watermark", s.watermark)
	authorized.GET("/emails", s.listEmails)
	authorized.GET("/emails/:id", s.getEmail)
	authorized.GET("/runs", s.listRuns)
	authorized.GET("/sync", s.syncStatus)
	authorized.POST("/sync", s.triggerSync)
	authorized.DELETE("/sync", s.cancelSync)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) watermark(c *gin.Context) {
	ctx := c.Request.Context()

	wm, ok, err := s.Store.MaxDateReceived(ctx)
	if err != nil {
		internalError(c, err)
		return
	}
	count, err := s.Store.CountEmails(ctx)
	if err != nil {
		internalError(c, err)
		return
	}

	resp := gin.H{"watermark": nil, "count": count}
	if ok {
		resp["watermark"] = wm
		resp["watermark_time"] = time.UnixMilli(wm).UTC()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listEmails(c *gin.Context) {
	limit, ok := queryLimit(c, defaultEmailLimit)
	if !ok {
		return
	}

	emails, err := s.Store.ListEmails(c.Request.Context(), store.EmailFilter{
		Domain: c.Query("domain"),
		Limit:  limit,
	})
	if err != nil {
		internalError(c, err)
		return
	}
	if emails == nil {
		emails = []models.Email{}
	}
	c.JSON(http.StatusOK, emails)
}

func (s *Server) getEmail(c *gin.Context) {
	email, err := s.Store.GetEmail(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, email)
}

func (s *Server) listRuns(c *gin.Context) {
	limit, ok := queryLimit(c, defaultRunLimit)
	if !ok {
		return
	}

	runs, err := s.Store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) syncStatus(c *gin.Context) {
	resp := gin.H{"mailbox": s.Mailbox, "running": s.Manager.IsRunning(s.Mailbox)}
	if run, ok := s.Manager.LastRun(s.Mailbox); ok {
		resp["last_run"] = run
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) triggerSync(c *gin.Context) {
	err := s.Manager.Start(s.Mailbox, s.Syncer)
	if errors.Is(err, sync.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	entry := log.WithField("mailbox", s.Mailbox)
	if op, ok := OperatorFrom(c); ok {
		entry = entry.WithField("operator", op.ID)
	}
	entry.Info("sync triggered")

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "mailbox": s.Mailbox})
}

func (s *Server) cancelSync(c *gin.Context) {
	if err := s.Manager.Stop(s.Mailbox); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	entry := log.WithField("mailbox", s.Mailbox)
	if op, ok := OperatorFrom(c); ok {
		entry = entry.WithField("operator", op.ID)
	}
	entry.Info("sync cancelled")

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "mailbox": s.Mailbox})
}

// queryLimit parses ?limit=, writing a 400 when it is malformed
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return 0, false
	}
	return limit, true
}

func internalError(c *gin.Context, err error) {
	log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
