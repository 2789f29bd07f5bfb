package api

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/gordon-go/internal/capture"
	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/quotes"
	"github.com/tphakala/gordon-go/internal/session"
)

const (
	statsCacheKey       = "category_stats"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status            string           `json:"status"`
	Capture           capture.Snapshot `json:"capture"`
	SessionActive     bool             `json:"session_active"`
	MemoryUsedPercent float64          `json:"memory_used_percent,omitempty"`
	Uptime            string           `json:"uptime"`
}

func (s *Server) health(c echo.Context) error {
	resp := HealthResponse{
		Status:        "ok",
		Capture:       s.capture.Status(),
		SessionActive: len(s.sessions.Sessions()) > 0,
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
	}
	if vm, err := mem.VirtualMemoryWithContext(c.Request().Context()); err == nil {
		resp.MemoryUsedPercent = vm.UsedPercent
	} else {
		s.log.Debug("memory stats unavailable", logger.Error(err))
	}
	return c.JSON(http.StatusOK, resp)
}

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	SessionID string               `json:"session_id"`
	Timeline  []quotes.Step        `json:"timeline"`
	Quotes    []session.QuoteEvent `json:"quotes"`
}

// StartResponse is returned by POST /api/session/start.
type StartResponse struct {
	Status          string               `json:"status"`
	SessionID       string               `json:"session_id"`
	Capture         capture.StartResult  `json:"capture"`
	QuotesGenerated int                  `json:"quotes_generated"`
	Quotes          []session.QuoteEvent `json:"quotes"`
	TTSEnabled      bool                 `json:"tts_enabled"`
}

func (s *Server) startSession(c echo.Context) error {
	var req StartRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("operation", "bind_start_request").
				Build()
		}
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = "session_" + uuid.NewString()
	}

	events := req.Quotes
	generated := 0
	if len(events) == 0 && len(req.Timeline) > 0 && s.generator != nil {
		var err error
		events, err = s.generator.Generate(c.Request().Context(), req.Timeline)
		if err != nil {
			// The session still runs, just silently.
			s.log.Warn("quote generation failed, starting without quotes",
				logger.String("session_id", id),
				logger.Error(err))
			events = nil
		}
		generated = len(events)
	}
	if events == nil {
		events = []session.QuoteEvent{}
	}

	captureResult, err := s.capture.Start(c.Request().Context())
	if err != nil {
		return err
	}

	status := string(captureResult)
	if len(events) > 0 {
		res, err := s.sessions.StartSession(id, events, s.now())
		if err != nil {
			// Capture started for this request only, so it goes down with it.
			if captureResult == capture.Started {
				if stopErr := s.capture.Stop(context.WithoutCancel(c.Request().Context())); stopErr != nil {
					s.log.Warn("failed to stop capture after rejected session",
						logger.String("session_id", id),
						logger.Error(stopErr))
				}
			}
			return err
		}
		status = string(res)
	}

	s.mu.Lock()
	s.currentSession = id
	s.mu.Unlock()

	s.log.Info("session started",
		logger.String("session_id", id),
		logger.Int("quotes", len(events)),
		logger.String("capture", string(captureResult)))

	return c.JSON(http.StatusOK, StartResponse{
		Status:          status,
		SessionID:       id,
		Capture:         captureResult,
		QuotesGenerated: generated,
		Quotes:          events,
		TTSEnabled:      s.ttsEnabled,
	})
}

// StopRequest is the body of POST /api/session/stop.
type StopRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) stopSession(c echo.Context) error {
	var req StopRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("operation", "bind_stop_request").
				Build()
		}
	}

	s.mu.Lock()
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = s.currentSession
	}
	if id == s.currentSession {
		s.currentSession = ""
	}
	s.mu.Unlock()

	res := session.StopResult{Status: "stopped"}
	if id != "" {
		res = s.sessions.StopSession(id)
	}
	if err := s.capture.Stop(c.Request().Context()); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":     res.Status,
		"session_id": id,
	})
}

// StatusResponse is returned by GET /api/session/status.
type StatusResponse struct {
	Active    bool             `json:"active"`
	SessionID string           `json:"session_id,omitempty"`
	Session   session.Status   `json:"session"`
	Capture   capture.Snapshot `json:"capture"`
}

func (s *Server) sessionStatus(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("session_id"))
	if id == "" {
		s.mu.Lock()
		id = s.currentSession
		s.mu.Unlock()
	}

	st := session.Status{State: session.StateIdle}
	if id != "" {
		st = s.sessions.Status(id)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Active:    st.Active,
		SessionID: id,
		Session:   st,
		Capture:   s.capture.Status(),
	})
}

func (s *Server) listCategories(c echo.Context) error {
	if s.statsCache != nil {
		if cached, ok := s.statsCache.Get(statsCacheKey); ok {
			return c.JSON(http.StatusOK, map[string]any{"categories": cached})
		}
	}
	stats := s.categories.Stats()
	if s.statsCache != nil {
		s.statsCache.Set(statsCacheKey, stats, cache.DefaultExpiration)
	}
	return c.JSON(http.StatusOK, map[string]any{"categories": stats})
}

// ImageInfo describes one stored frame.
type ImageInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
}

func (s *Server) listImages(c echo.Context) error {
	label := c.Param("label")
	entries, err := s.categories.Entries(label)
	if err != nil {
		return err
	}
	out := make([]ImageInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ImageInfo{
			Name:      e.Name,
			CreatedAt: e.CreatedAt,
			URL:       path.Join("/api/categories", label, "images", e.Name),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"label":  label,
		"images": out,
	})
}

func (s *Server) getImage(c echo.Context) error {
	label, name := c.Param("label"), c.Param("name")
	data, err := s.categories.ReadBlob(label, name)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return c.Blob(http.StatusOK, contentType(name), data)
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func (s *Server) recentObservations(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	obs, err := s.history.RecentObservations(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"observations": obs})
}

func (s *Server) labelCounts(c echo.Context) error {
	since := s.now().Add(-24 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("parameter", "since").
				Build()
		}
		since = t
	}
	counts, err := s.history.AcceptedByLabel(c.Request().Context(), since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"since": since, "labels": counts})
}

func (s *Server) recentSessions(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	records, err := s.history.RecentSessions(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": records})
}

func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.Newf("limit must be a positive integer, got %q", raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return min(n, maxHistoryLimit), nil
}

// compile-time checks for the production implementations.
var (
	_ CaptureControl = (*capture.Manager)(nil)
	_ SessionControl = (*session.Scheduler)(nil)
	_ CategoryReader = (*category.Store)(nil)
)
