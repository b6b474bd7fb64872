// Package bluesky is the thin XRPC layer the archiver needs: session login,
// an authenticated request primitive, blob download, and the post/embed model
// for the two feed endpoints it reads (getActorLikes and getAuthorFeed).
//
// Embeds are decoded by their $type into a closed set of variants, with
// UnknownEmbed as the fallback, instead of guessing from the JSON shape.
package bluesky
