// Package api is the HTTP edge of the answer service.
package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rlt-tender/tenderguide/internal/chatlog"
	"github.com/rlt-tender/tenderguide/internal/inference"
	"github.com/rlt-tender/tenderguide/internal/logger"
	"github.com/rlt-tender/tenderguide/internal/metrics"
)

// Answerer is the part of inference.Service the edge calls.
type Answerer interface {
	GenerateAnswer(ctx context.Context, req inference.Request) (string, error)
	Loaded() bool
}

// Edge defaults for /api/generate.
const (
	DefaultMaxNewTokens = 220
	DefaultCategory     = inference.DefaultCategory
)

type Options struct {
	Answerer Answerer
	// Chats defaults to an in-memory store.
	Chats   chatlog.Store
	Metrics *metrics.Metrics
	Logger  logger.Logger
	Tracer  trace.Tracer
	// CacheTTL enables the deterministic answer cache when positive.
	CacheTTL      time.Duration
	CacheCapacity uint64
	Version       string
}

type Server struct {
	answerer Answerer
	chats    chatlog.Store
	metrics  *metrics.Metrics
	log      logger.Logger
	tracer   trace.Tracer
	cache    *answerCache
	version  string
}

func NewServer(opts Options) *Server {
	s := &Server{
		answerer: opts.Answerer,
		chats:    opts.Chats,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		tracer:   opts.Tracer,
		version:  opts.Version,
	}
	if s.chats == nil {
		s.chats = chatlog.NewMemoryStore()
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/rlt-tender/tenderguide/internal/api")
	}
	if opts.CacheTTL > 0 {
		s.cache = newAnswerCache(opts.CacheTTL, opts.CacheCapacity)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/api/generate", s.handleGenerate)
	e.POST("/api/chat/send", s.handleChatSend)
	e.GET("/api/chat/history", s.handleChatHistory)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
}

// Echo builds an echo instance with the standard middleware chain and all
// routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLogger())
	e.Use(requestID(s.log))
	e.Use(tracing(s.tracer))
	s.Register(e)
	return e
}

// Close stops the cache janitor. The chat store is owned by the caller.
func (s *Server) Close() {
	s.cache.stop()
}
