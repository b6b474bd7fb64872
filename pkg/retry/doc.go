// Package retry holds the rate-limit backoff policy used by the paginated fetcher.
//
// The policy is a pure function of the attempt count. Only HTTP 429 responses
// consult it; any other failure ends the run straight away. Once ShouldGiveUp
// returns true the caller fails with errors.NewRateLimitExhausted rather than
// skipping the page.
//
//	policy := retry.DefaultPolicy()
//	for attempt := 1; ; attempt++ {
//		if policy.ShouldGiveUp(attempt) {
//			return errors.NewRateLimitExhausted(policy.MaxRetries)
//		}
//		if err := retry.Wait(ctx, policy.NextWait(attempt)); err != nil {
//			return err
//		}
//	}
package retry
