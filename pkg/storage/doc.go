// Package storage lays out the archive on disk.
//
// Images live under output/<handle>/, or output/nsfw/<handle>/ for posts that
// carry a restricted moderation label. Files are written to a temporary name
// in the destination directory and renamed into place, so a failed download
// or write never leaves a truncated image.
package storage
