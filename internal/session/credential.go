package session

import (
	"net/http"
	"time"

	"github.com/dukerupert/chatgate/internal/model"
)

const CookieName = "chat_session"

// Credential is the single place the session cookie is read and written.
type Credential struct {
	Secure bool
	MaxAge time.Duration
}

func NewCredential(secure bool, maxAge time.Duration) Credential {
	return Credential{Secure: secure, MaxAge: maxAge}
}

// FromRequest returns the presented session id, or "" when none was sent.
func (c Credential) FromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c Credential) Set(w http.ResponseWriter, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear tells the client to drop the credential (Max-Age=0).
func (c Credential) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
