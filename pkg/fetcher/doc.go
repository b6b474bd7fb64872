// Package fetcher walks the liked-posts or author-feed endpoint page by page.
//
// A run moves through Idle, Requesting, then PageAccepted, RateLimited,
// FatalError or Exhausted. Only HTTP 429 is retried, following a retry.Policy;
// every other failure ends the run. The cursor of each accepted page is handed
// to the Checkpoint before the next request is issued.
//
// When a positive limit is satisfied part way through a page the checkpoint is
// left at the cursor that requested that page, so a later resume sees the
// unprocessed remainder again. The checkpoint is cleared only when the feed
// runs out.
package fetcher
