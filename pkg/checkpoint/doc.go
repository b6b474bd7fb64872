// Package checkpoint saves and reloads the opaque pagination cursor of a fetch run.
//
// Each target gets its own plain-text file under the output directory, named
// after the fetch scope and the actor (for example .cursor_likes_alice.bsky.social),
// because liked posts and an author feed paginate independently. Saves go
// through a temporary file and a rename so an interrupted write never leaves
// a truncated cursor behind.
package checkpoint
