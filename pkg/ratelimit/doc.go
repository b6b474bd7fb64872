// Package ratelimit throttles image downloads.
//
// PerMinute wraps golang.org/x/time/rate with a burst of one, so downloads
// are spread evenly across the minute. The archiver waits on it before each
// blob download when rate_limit.downloads_per_minute is set:
//
//	limiter := ratelimit.PerMinute(30)
//	if limiter != nil {
//	    if err := limiter.Wait(ctx); err != nil {
//	        return err
//	    }
//	}
package ratelimit
