// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// A Pool runs a fixed number of goroutines over a bounded queue:
//
//	pool := worker.NewPool(1, 256, func(ctx context.Context, m message) error {
//	    return publish(ctx, m)
//	}, worker.WithMetrics[message](registry, "nats_mirror_queue"))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(m); errors.Is(err, worker.ErrQueueFull) {
//	    // shed load
//	}
//
// Submit never blocks. A full queue drops the item and returns ErrQueueFull.
// Stop refuses new work, lets the workers drain the queue, and returns
// ErrStopTimeout when they do not finish in time. With a single worker items
// are processed in submission order.
//
// Statistics are always tracked (see Stats). Prometheus metrics are opt-in
// through WithMetrics:
//
//	platt_<subsystem>_queue_depth
//	platt_<subsystem>_submitted_total
//	platt_<subsystem>_processed_total
//	platt_<subsystem>_failed_total
//	platt_<subsystem>_dropped_total
//	platt_<subsystem>_processing_duration_seconds
package worker
