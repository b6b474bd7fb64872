// Package auth stores Bluesky app passwords.
//
// An Account is keyed by its DID once a login has revealed it, and by handle
// before that; lookups accept either. Each account remembers the PDS it
// belongs to. Only the xxxx-xxxx-xxxx-xxxx app password format is accepted.
//
// Manager tries a chain of stores in order: the system keyring, a sealed
// AES-GCM file in the config directory (key derived with PBKDF2), and
// finally the BSKY_ARCHIVER_HANDLE / BLUESKY_APP_PASSWORD environment
// variables, which are read-only.
package auth
