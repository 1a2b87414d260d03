package worker

import "errors"

// Errors returned by Pool. ErrQueueFull is the only one a running pool
// returns under load; the others report misuse of the lifecycle.
var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrQueueFull          = errors.New("worker: queue full")
	ErrStopTimeout        = errors.New("worker: workers did not finish before the stop timeout")

	// ErrNilProcessor is the panic value of NewPool without a processor.
	ErrNilProcessor = errors.New("worker: nil processor")
)
