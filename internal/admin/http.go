package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/deusflow/technews/internal/storage"
)

// HTTPServer exposes health, metrics and the control actions.
type HTTPServer struct {
	svc  *Service
	echo *echo.Echo
	addr string
}

func NewHTTPServer(addr string, svc *Service) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.New(svc.log()))
	e.Use(middleware.Recover())

	s := &HTTPServer{svc: svc, echo: e, addr: addr}

	e.GET("/health", s.handleHealth)
	if svc.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(svc.Metrics.Handler()))
	}
	e.GET("/status", s.handleStatus)
	e.POST("/pause", s.handlePause)
	e.POST("/resume", s.handleResume)
	e.POST("/reset-delay", s.handleResetDelay)
	e.GET("/optimal-hours", s.handleOptimalHours)
	e.POST("/engagement", s.handleEngagement)
	e.GET("/top", s.handleTop)
	e.GET("/scores", s.handleScores)
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.svc.log().Info("starting admin HTTP server", "addr", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	if s.svc.Metrics == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	h := s.svc.Metrics.Health()
	status, code := "ok", http.StatusOK
	if !h.Healthy {
		status, code = "error", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":     status,
		"last_run":   h.LastRunTime,
		"last_error": h.LastError,
	})
}

func (s *HTTPServer) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Engine.Status())
}

func (s *HTTPServer) handlePause(c echo.Context) error {
	hours, err := strconv.ParseFloat(c.QueryParam("hours"), 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "hours must be a number"})
	}
	until, err := s.svc.Pause(c.Request().Context(), time.Duration(hours*float64(time.Hour)))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]time.Time{"pause_until": until})
}

func (s *HTTPServer) handleResume(c echo.Context) error {
	s.svc.Resume(c.Request().Context())
	return c.JSON(http.StatusOK, s.svc.Engine.Status())
}

func (s *HTTPServer) handleResetDelay(c echo.Context) error {
	s.svc.ResetDelay(c.Request().Context())
	return c.JSON(http.StatusOK, s.svc.Engine.Status())
}

func (s *HTTPServer) handleOptimalHours(c echo.Context) error {
	if s.svc.Cadence == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "cadence optimizer disabled"})
	}
	return c.JSON(http.StatusOK, s.svc.Cadence.Profile())
}

func (s *HTTPServer) handleEngagement(c echo.Context) error {
	var sample storage.EngagementSample
	if err := c.Bind(&sample); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if err := s.svc.RecordEngagement(c.Request().Context(), sample); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) handleTop(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	top, err := s.svc.Top(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	type entry struct {
		storage.RankedPublication
		Engagement float64 `json:"engagement"`
	}
	out := make([]entry, len(top))
	for i, p := range top {
		out[i] = entry{RankedPublication: p, Engagement: p.Engagement()}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *HTTPServer) handleScores(c echo.Context) error {
	scored, err := s.svc.Engine.Scores(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, scored)
}
