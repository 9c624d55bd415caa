// Package remote implements the optional shared copy of the clinic records:
// an HTTP server exposing patients and prescriptions, and a client that pulls
// that snapshot into a local store and pushes new prescriptions back.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"clinicdesk/internal/core"
	"clinicdesk/internal/metrics"
	"clinicdesk/internal/query"
	"clinicdesk/pkg/domain"
)

// Route paths served by Server.
const (
	PathPatients      = "/api/patients"
	PathPrescriptions = "/api/prescriptions"
	PathMetrics       = "/metrics"
	PathHealth        = "/healthz"
)

// Server serves the remote collaborator endpoints over a Service.
type Server struct {
	svc   *core.Service
	views *query.Views
	log   zerolog.Logger
	e     *echo.Echo
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the request and error logger.
func WithServerLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer builds the echo router. Writes go through svc so the consistency
// rules and event publication apply to remote writes as well.
func NewServer(svc *core.Service, opts ...ServerOption) *Server {
	s := &Server{svc: svc, views: query.NewViews(svc.Store()), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(recovery(s.log))
	e.Use(echomw.RequestID())
	e.Use(requestLogger(s.log))
	e.Use(instrument())

	e.GET(PathHealth, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET(PathMetrics, echo.WrapHandler(promhttp.Handler()))

	e.GET(PathPatients, s.listPatients)
	e.POST(PathPatients, s.createPatient)
	e.GET(PathPrescriptions, s.listPrescriptions)
	e.POST(PathPrescriptions, s.createPrescription)

	s.e = e
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown. http.ErrServerClosed is not reported.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("starting server")
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) listPatients(c echo.Context) error {
	patients, err := s.views.Patients(c.Request().Context(), query.PatientFilter{
		Search: c.QueryParam("search"),
		Gender: c.QueryParam("gender"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (s *Server) createPatient(c echo.Context) error {
	var p domain.Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient body")
	}
	created, res, err := s.svc.RegisterPatient(c.Request().Context(), p, nil)
	if err != nil {
		return err
	}
	logWarnings(s.log, res)
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) listPrescriptions(c echo.Context) error {
	rxs, err := s.views.Prescriptions(c.Request().Context(), query.PrescriptionFilter{
		Status:    domain.PrescriptionStatus(c.QueryParam("status")),
		PatientID: c.QueryParam("patientId"),
		Doctor:    c.QueryParam("doctor"),
		Search:    c.QueryParam("search"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rxs)
}

func (s *Server) createPrescription(c echo.Context) error {
	var rx domain.Prescription
	if err := c.Bind(&rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription body")
	}
	created, res, err := s.svc.CreatePrescription(c.Request().Context(), rx)
	if err != nil {
		return err
	}
	logWarnings(s.log, res)
	return c.JSON(http.StatusCreated, created)
}

func logWarnings(log zerolog.Logger, res domain.Result) {
	for _, v := range res.Warnings() {
		log.Warn().Str("rule", v.Rule).Str("entity_id", v.EntityID).Msg(v.Message)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	body := errorBody{Error: err.Error()}
	status := statusFor(err)

	var he *echo.HTTPError
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &he):
		status = he.Code
		body.Error = fmt.Sprint(he.Message)
	case errors.As(err, &ve):
		body.Missing = ve.Missing
		body.Invalid = ve.Problems
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("write error response")
	}
}

func recovery(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					log.Error().
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			evt := log.Debug()
			if err != nil {
				evt = log.Warn().Err(err)
			}
			evt.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return err
		}
	}
}

// instrument records request counts and latency per route template.
func instrument() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = statusFor(err)
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.RecordHTTPRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}

func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWriteFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
