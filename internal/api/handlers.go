package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/rlt-tender/tenderguide/internal/chatlog"
	"github.com/rlt-tender/tenderguide/internal/inference"
	"github.com/rlt-tender/tenderguide/internal/logger"
)

const (
	routeGenerate = "/api/generate"
	routeSend     = "/api/chat/send"
	routeHistory  = "/api/chat/history"
)

// resolve applies the edge defaults on top of the service defaults.
func (r GenerateRequest) resolve() inference.Request {
	category := strings.TrimSpace(r.Category)
	if category == "" {
		category = DefaultCategory
	}
	opts := inference.RequestOptions{
		MaxNewTokens:  r.MaxNewTokens,
		MinNewTokens:  r.MinNewTokens,
		Deterministic: r.Deterministic,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
	}
	if opts.MaxNewTokens == nil {
		opts.MaxNewTokens = inference.Ptr(DefaultMaxNewTokens)
	}
	return inference.ResolveRequest(strings.TrimSpace(r.Question), category, strings.TrimSpace(r.Subcat), opts)
}

func (s *Server) reply(c *echo.Context, route string, status int, body any) error {
	s.metrics.HTTPRequest(route, status)
	return c.JSON(status, body)
}

func (s *Server) fail(c *echo.Context, route string, status int, msg string) error {
	s.metrics.HTTPRequest(route, status)
	return writeError(c, status, msg)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	body, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return s.fail(c, routeGenerate, statusFor(err), codeInvalidJSON)
	}
	req := body.resolve()
	if req.Question == "" {
		return s.fail(c, routeGenerate, http.StatusBadRequest, codeEmptyQuestion)
	}
	if s.answerer == nil {
		return s.fail(c, routeGenerate, http.StatusInternalServerError, "inference service not configured")
	}

	if text, ok := s.cache.get(req); ok {
		s.metrics.CacheLookup(true)
		return s.reply(c, routeGenerate, http.StatusOK, generateResponse(text, true))
	}
	if s.cache != nil && req.Deterministic {
		s.metrics.CacheLookup(false)
	}

	text, err := s.answerer.GenerateAnswer(ctx, req)
	if err != nil {
		log.Error("generate failed", "error", err, "category", req.Category)
		return s.fail(c, routeGenerate, http.StatusInternalServerError, err.Error())
	}
	s.cache.put(req, text)
	return s.reply(c, routeGenerate, http.StatusOK, generateResponse(text, false))
}

func (s *Server) handleChatSend(c *echo.Context) error {
	ctx := c.Request().Context()
	body, err := decodeJSON[ChatSendRequest](c.Request().Body)
	if err != nil {
		return s.fail(c, routeSend, statusFor(err), codeInvalidJSON)
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return s.fail(c, routeSend, http.StatusBadRequest, codeEmptyText)
	}
	userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if userID == "" {
		return s.reply(c, routeSend, http.StatusOK, ChatSendResponse{OK: true, Skipped: "guest"})
	}

	e, err := s.chats.Append(ctx, chatlog.Entry{UserID: userID, Text: chatlog.Tagged(body.Role, text)})
	if err != nil {
		logger.FromContext(ctx).Error("chat append failed", "error", err, "user_id", userID)
		return s.fail(c, routeSend, http.StatusInternalServerError, err.Error())
	}
	logger.FromContext(ctx).Debug("chat stored", "id", e.ID, "user_id", userID)
	return s.reply(c, routeSend, http.StatusOK, ChatSendResponse{OK: true, ID: e.ID, UserID: e.UserID, Text: e.Text})
}

func (s *Server) handleChatHistory(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if userID == "" {
		return s.fail(c, routeHistory, http.StatusUnauthorized, codeUnauthorized)
	}
	entries, err := s.chats.History(ctx, userID)
	if err != nil {
		logger.FromContext(ctx).Error("chat history failed", "error", err, "user_id", userID)
		return s.fail(c, routeHistory, http.StatusInternalServerError, err.Error())
	}
	return s.reply(c, routeHistory, http.StatusOK, HistoryResponse{OK: true, Items: historyItems(entries)})
}

func (s *Server) handleHealth(c *echo.Context) error {
	loaded := s.answerer != nil && s.answerer.Loaded()
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", ModelLoaded: loaded, Version: s.version})
}
