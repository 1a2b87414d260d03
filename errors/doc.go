// Package errors implements the error taxonomy of the platt backend.
//
// # Classes
//
// Every error is treated as one of three classes:
//
//   - Transient: the proxy is slow or gone, a socket dropped, a deadline hit.
//     Callers wait, reconnect or retry.
//   - Invalid: the request or the data is wrong (bad selection, malformed
//     binary, unknown element type). Retrying will not help.
//   - Fatal: the process cannot continue (unusable configuration).
//
// # Domain kinds
//
// The viewer backend reports failures through a closed set of sentinels:
//
//	ErrMalformedBinary    invalid
//	ErrMissingObject      invalid
//	ErrProxyTimeout       transient
//	ErrProxyUnavailable   transient
//	ErrUnknownElementType invalid
//	ErrHashMismatch       transient
//	ErrInvalidSelection   invalid
//
// Attach detail with Kind and component context with the Wrap helpers:
//
//	if len(blob)%8 != 0 {
//	    return errors.Kind(errors.ErrMalformedBinary, "%d bytes", len(blob))
//	}
//
//	entries, err := cache.Fetch(ctx, ns, keys)
//	if err != nil {
//	    return errors.WrapTransient(err, "RemoteSource", "Load", "file fetch")
//	}
//
// errors.Is sees through every wrapper, so callers test for the kind:
//
//	if errors.Is(err, errors.ErrProxyTimeout) { ... }
package errors
