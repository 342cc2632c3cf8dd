package auth

import (
	"net/http"
	"time"
)

// CookieConfig controls how the session cookie is written. In cross-origin
// deployments SameSite must be None, which browsers only accept together
// with Secure.
type CookieConfig struct {
	Name        string
	TTL         time.Duration
	Secure      bool
	CrossOrigin bool
}

func (c CookieConfig) sameSite() http.SameSite {
	if c.CrossOrigin {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// SetSessionCookie writes the httpOnly session cookie.
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure || cfg.CrossOrigin,
		SameSite: cfg.sameSite(),
	})
}

// ClearSessionCookie tells the browser to delete the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure || cfg.CrossOrigin,
		SameSite: cfg.sameSite(),
	})
}
