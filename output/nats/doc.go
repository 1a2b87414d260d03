// Package nats mirrors scene updates onto NATS subjects.
//
// The Mirror implements scene.Notifier next to the WebSocket hub. Every
// update broadcast for a scene is published, as the same JSON the browser
// receives, on <subject_prefix>.<scene>. The mirror is optional and best
// effort. Notify only queues the update; a single worker publishes the queue
// in order, so a slow or unreachable NATS server never holds up the REST
// handlers. Failed publishes are counted and dropped.
//
// Health follows the connection: the client reports drops and recoveries
// through ConnectionChanged, and the mirror is degraded while it is down.
//
// Metrics:
//
//	platt_nats_mirror_published_total
//	platt_nats_mirror_failed_total
//	platt_nats_mirror_reconnects_total
//	platt_nats_mirror_queue_queue_depth
//	platt_nats_mirror_queue_dropped_total
package nats
