// Package adminapi exposes the relay's HTTP control surface: health and
// Prometheus scraping, plus an admin endpoint for pre-seeding a client's
// variable scope before it ever sends a CLIENT_VAR_SET itself.
package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsync/server/internal/room"
	"netsync/server/internal/varstore"
)

const maxAdminValueBytes = 1024
const maxAdminNameBytes = 64

// Server is the Echo application serving /healthz, /metrics, and the
// client-variable pre-seed endpoint.
type Server struct {
	echo *echo.Echo
	reg  *room.Registry
	vars *varstore.Store
}

// New builds an admin HTTP server. handler is the Prometheus scrape handler
// to serve under /metrics.
func New(reg *room.Registry, vars *varstore.Store, handler http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{echo: e, reg: reg, vars: vars}
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(handler))
	e.POST("/v1/rooms/:roomId/devices/:deviceId/client-variables", s.handlePreSeed)
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			slog.Debug("admin http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Run starts the Echo server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Rooms: len(s.reg.RoomIDs())})
}

type preSeedRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// handlePreSeed resolves deviceId to the room's current client-number
// and applies the write as an admin (writer 0) CLIENT_VAR_SET: 200 on
// success, 400 on a name/value size-cap violation, 413 on the admin-set
// count cap.
func (s *Server) handlePreSeed(c echo.Context) error {
	roomID := c.Param("roomId")
	deviceID := c.Param("deviceId")
	if roomID == "" || deviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room id and device id are required")
	}

	var req preSeedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || len(req.Name) > maxAdminNameBytes || len(req.Value) > maxAdminValueBytes {
		return echo.NewHTTPError(http.StatusBadRequest, "variable name or value exceeds size limit")
	}

	clientNo, ok := s.resolveClientNumber(roomID, deviceID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "device not found in room")
	}

	err := s.vars.PreSeed(roomID, clientNo, []byte(req.Name), []byte(req.Value))
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, varstore.ErrCapacityExceeded):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "admin-set variable cap reached for this client")
	case errors.Is(err, varstore.ErrMalformedFrame):
		return echo.NewHTTPError(http.StatusBadRequest, "variable name or value exceeds size limit")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) resolveClientNumber(roomID, deviceID string) (uint16, bool) {
	members, ok := s.reg.Members(roomID)
	if !ok {
		return 0, false
	}
	for _, m := range members {
		if string(m.DeviceID) == deviceID {
			return m.ClientNumber, true
		}
	}
	return 0, false
}

func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}

// MetricsHandler returns the promhttp handler to pass to New.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
