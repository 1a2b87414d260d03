// Package retry runs an operation again after transient failures.
//
// Two presets cover the proxy link:
//
//   - Reconnect(d): retry forever with a fixed delay d, used by the
//     long-lived sub-connections.
//   - Fixed(n, d): at most n attempts with a fixed delay d, used by
//     file downloads which give up after three failed connects.
//
// DefaultConfig keeps exponential backoff for everything else.
//
//	err := retry.Do(ctx, retry.Fixed(3, 3500*time.Millisecond), func() error {
//	    conn, err = dialer.DialContext(ctx, "tcp", addr)
//	    return err
//	})
//
// Wrap an error with NonRetryable to stop the loop immediately.
package retry
