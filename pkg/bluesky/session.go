package bluesky

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the result of a successful login. It is passed explicitly to
// every authenticated call; the client keeps no session state of its own.
type Session struct {
	DID        string
	Handle     string
	AccessJWT  string
	RefreshJWT string
	// ExpiresAt is read from the access token's exp claim; zero when unknown
	ExpiresAt time.Time
}

// newSession builds a Session and reads the token expiry without verifying the
// signature, which only the PDS can do.
func newSession(did, handle, accessJWT, refreshJWT string) *Session {
	s := &Session{
		DID:        did,
		Handle:     handle,
		AccessJWT:  accessJWT,
		RefreshJWT: refreshJWT,
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessJWT, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}
	return s
}

// Expired reports whether the access token is known to be expired at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
