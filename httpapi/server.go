// Package httpapi is the runtime's transport layer: an Echo server
// exposing the four operations orchestrator.Orchestrator implements,
// wrapped in the teacher's middleware stack (Logger, Recover, CORS)
// plus CSRF double-submit protection on the state-changing /interact
// route (grounded on app/security/csrf.py).
package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"flowrt.dev/engine"
	"flowrt.dev/errs"
	"flowrt.dev/orchestrator"
	"flowrt.dev/session"
)

const sessionCookie = "session_token"

// Server wires an Echo instance to an Orchestrator.
type Server struct {
	echo *echo.Echo
	orch *orchestrator.Orchestrator
	log  *logrus.Entry

	secureCookies bool
	tokenSecret   []byte
	tokenTTL      time.Duration
	metrics       *metrics
}

// Config controls Server construction.
type Config struct {
	SecureCookies bool // false only for local development over plain HTTP
	CORSOrigins   []string

	// TokenSecret signs the session_token cookie value (session.SignToken).
	// A zero-length secret disables signing and falls back to the bare
	// session token (Session.Token), useful only for tests.
	TokenSecret []byte
	TokenTTL    time.Duration // defaults to 7 days

	// RatePerSecond caps requests per client IP; <= 0 disables the
	// limiter, which is the right default behind an edge proxy that
	// already enforces one.
	RatePerSecond float64

	// MetricsNamespace prefixes every exported metric name; defaults
	// to "flowrt".
	MetricsNamespace string
}

// New builds a Server with the full middleware stack registered and
// routes mounted, ready for Start.
func New(orch *orchestrator.Orchestrator, cfg Config, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType, csrfHeader},
	}))
	if cfg.RatePerSecond > 0 {
		e.Use(rateLimiter(cfg.RatePerSecond))
	}
	e.Use(csrfProtection(cfg.SecureCookies, "/healthz", "/metrics", "/flows/"))

	s := &Server{
		echo:          e,
		orch:          orch,
		log:           log,
		secureCookies: cfg.SecureCookies,
		tokenSecret:   cfg.TokenSecret,
		tokenTTL:      cfg.TokenTTL,
		metrics:       newMetrics(cfg.MetricsNamespace),
	}
	s.routes()
	return s
}

// sessionCookieValue returns the value to store in the session_token
// cookie: a signed, tamper-evident reference when a secret is
// configured, otherwise the bare session token.
func (s *Server) sessionCookieValue(sess *session.Session) string {
	if len(s.tokenSecret) == 0 {
		return sess.Token
	}
	signed, err := session.SignToken(s.tokenSecret, sess.ID, sess.FlowID, s.tokenTTL)
	if err != nil {
		s.log.WithError(err).Warn("failed to sign session token, falling back to bare token")
		return sess.Token
	}
	return signed
}

// Echo exposes the underlying instance, e.g. for graceful shutdown
// from the caller's signal-handling loop.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start blocks serving on addr until the process is asked to stop.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", s.metrics.handler())
	s.echo.POST("/flows/:flow_id/sessions", s.handleStartSession)
	s.echo.GET("/sessions/:session_id", s.handleGetSession)
	s.echo.POST("/sessions/:session_id/interact", s.handleInteract)
	s.echo.POST("/sessions/:session_id/end", s.handleEndSession)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type startSessionRequest struct {
	UserID string `json:"user_id"`
}

type startSessionResponse struct {
	SessionID string                `json:"session_id"`
	CSRFToken string                `json:"csrf_token"`
	Turn      *engine.TurnResponse  `json:"turn"`
}

func (s *Server) handleStartSession(c echo.Context) error {
	start := time.Now()
	var req startSessionRequest
	_ = c.Bind(&req)

	result, err := s.orch.StartSession(c.Request().Context(), c.Param("flow_id"), req.UserID)
	if err != nil {
		mapped := mapError(err)
		s.metrics.observe("start", statusOf(mapped), start)
		return mapped
	}
	defer s.metrics.observe("start", http.StatusCreated, start)

	token, err := generateCSRFToken()
	if err != nil {
		return err
	}
	setSecureCookie(c, csrfCookie, token, 24*60*60, s.secureCookies, true)
	setSecureCookie(c, sessionCookie, s.sessionCookieValue(result.Session), int(s.tokenTTL.Seconds()), s.secureCookies, true)

	return c.JSON(http.StatusCreated, startSessionResponse{
		SessionID: result.Session.ID,
		CSRFToken: token,
		Turn:      result.Turn,
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.orch.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type interactRequest struct {
	Type  session.InteractionType `json:"type"`
	Value interface{}             `json:"value"`
}

func (s *Server) handleInteract(c echo.Context) error {
	start := time.Now()
	var req interactRequest
	if err := c.Bind(&req); err != nil {
		s.metrics.observe("interact", http.StatusBadRequest, start)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	turn, err := s.orch.Interact(c.Request().Context(), c.Param("session_id"), engine.UserInput{Type: req.Type, Value: req.Value})
	if err != nil {
		mapped := mapError(err)
		s.metrics.observe("interact", statusOf(mapped), start)
		return mapped
	}
	s.metrics.observe("interact", http.StatusOK, start)
	return c.JSON(http.StatusOK, turn)
}

// statusOf extracts the HTTP status mapError assigned, falling back to
// 500 for anything that isn't an *echo.HTTPError.
func statusOf(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}

func (s *Server) handleEndSession(c echo.Context) error {
	sess, err := s.orch.EndSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// mapError turns a domain errs.Kind into the HTTP status the original
// FastAPI layer uses for the same condition (app/api/chat.py's
// exception handlers).
func mapError(err error) error {
	kind, ok := errs.KindOf(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	switch kind {
	case errs.FlowNotFound, errs.SessionNotFound, errs.NodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errs.FlowNotPublished, errs.InvalidInput, errs.FlowValidationError:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errs.RevisionConflict:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errs.IdempotencyInProgress:
		return echo.NewHTTPError(http.StatusAccepted, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
