package bluesky

import (
	"fmt"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// ParseActor accepts a handle (with or without a leading @) or a DID and
// returns it in canonical form: handles are lower-cased, DIDs kept as is.
func ParseActor(raw string) (string, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if strings.HasPrefix(raw, "did:") {
		did, err := syntax.ParseDID(raw)
		if err != nil {
			return "", fmt.Errorf("invalid DID %q: %w", raw, err)
		}
		return did.String(), nil
	}

	handle, err := syntax.ParseHandle(raw)
	if err != nil {
		return "", fmt.Errorf("invalid handle %q: %w", raw, err)
	}
	return handle.Normalize().String(), nil
}

// IsDID reports whether an already parsed actor is a DID
func IsDID(actor string) bool {
	return strings.HasPrefix(actor, "did:")
}
