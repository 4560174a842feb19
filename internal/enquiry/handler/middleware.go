package handler

import (
	"net/http"

	"github.com/google/uuid"

	"tuitionmatch/pkg/requestcontext"
)

// SessionCookieName carries the enquirer's session id across requests so a
// resubmission after a failed confirmation can resume the prior attempt.
const SessionCookieName = "tm_session"

// SessionCookie reads the session cookie, minting one when absent, and places
// the session id in the request context.
func SessionCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			id = cookie.Value
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithSessionID(r.Context(), id)))
	})
}
