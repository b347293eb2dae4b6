package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// csrfCookie is the double-submit cookie name; csrfHeader is the
// header clients must echo its value back in, matching the original's
// CSRFProtectionMiddleware (app/security/csrf.py).
const (
	csrfCookie = "csrf_token"
	csrfHeader = "X-CSRF-Token"
)

// generateCSRFToken returns a cryptographically random, URL-safe
// token, the same entropy shape as secrets.token_urlsafe(32).
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// csrfProtection issues a csrf_token cookie on safe requests that
// don't already have one, and validates the double-submit pair on
// any request to an interact endpoint. Exempt paths (session start,
// health, metrics) skip validation entirely since they precede the
// client ever holding a token.
func csrfProtection(secureCookies bool, exemptPaths ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, p := range exemptPaths {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			method := c.Request().Method
			if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
				if _, err := c.Cookie(csrfCookie); err != nil {
					token, terr := generateCSRFToken()
					if terr != nil {
						return terr
					}
					setSecureCookie(c, csrfCookie, token, 24*60*60, secureCookies, true)
				}
				return next(c)
			}

			if strings.HasSuffix(path, "/interact") {
				if err := validateCSRFToken(c); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}

func validateCSRFToken(c echo.Context) error {
	cookie, err := c.Cookie(csrfCookie)
	if err != nil || cookie.Value == "" {
		return echo.NewHTTPError(http.StatusForbidden, "csrf token missing in cookie")
	}
	header := c.Request().Header.Get(csrfHeader)
	if header == "" {
		return echo.NewHTTPError(http.StatusForbidden, "csrf token missing in header")
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return echo.NewHTTPError(http.StatusForbidden, "csrf token mismatch")
	}
	return nil
}

// setSecureCookie mirrors set_secure_session_cookie: HttpOnly,
// SameSite=Strict always, Secure unless explicitly disabled (local
// development over plain HTTP).
func setSecureCookie(c echo.Context, name, value string, maxAgeSeconds int, secure, httpOnly bool) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAgeSeconds,
		HttpOnly: httpOnly,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}
