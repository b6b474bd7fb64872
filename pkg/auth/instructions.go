package auth

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ShowAppPasswordGuide explains how to create an app password
func ShowAppPasswordGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "BLUESKY APP PASSWORD")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The archiver logs in with an app password, never your main password.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Open https://bsky.app and sign in")
	fmt.Fprintln(w, "2. Go to Settings > Privacy and security > App passwords")
	fmt.Fprintln(w, "3. Click 'Add App Password' and give it a name, e.g. bsky-archiver")
	fmt.Fprintln(w, "4. Copy the generated value (format xxxx-xxxx-xxxx-xxxx)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The archiver only reads your likes and feeds. Direct message access is not needed.")
	fmt.Fprintln(w, "You can revoke the app password from the same settings page at any time.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
}

// ShowQuickGuide is the one-line version printed before the password prompt
func ShowQuickGuide(w io.Writer) {
	fmt.Fprintln(w, "App passwords: Settings > Privacy and security > App passwords (use --guide for details)")
}

// ErrNotAppPassword is returned when a main account password is offered for storage
var ErrNotAppPassword = errors.New("not an app password (expected xxxx-xxxx-xxxx-xxxx)")

// ValidateAppPassword accepts only the generated app password format
func ValidateAppPassword(s string) error {
	if s == "" {
		return fmt.Errorf("%w: app password is required", ErrInvalidCredentials)
	}
	if !LooksLikeAppPassword(s) {
		return ErrNotAppPassword
	}
	return nil
}

// LooksLikeAppPassword reports whether s has the xxxx-xxxx-xxxx-xxxx shape
func LooksLikeAppPassword(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) != 4 {
			return false
		}
		for _, r := range p {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
				return false
			}
		}
	}
	return true
}
