// Package ui holds the terminal presentation of the archiver: styled print
// helpers, the progress reporter and desktop notifications.
package ui
