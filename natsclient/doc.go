// Package natsclient wraps a core NATS connection with a circuit breaker.
//
// The backend uses it only to mirror scene updates onto NATS subjects, so
// the surface is deliberately small: Connect, Publish and Close,
// plus status reporting for health checks.
//
// # Circuit Breaker
//
// Every failed Connect counts against the breaker. After the threshold
// (default 5) is reached within one round the circuit opens and Connect
// fails fast with ErrCircuitOpen. A timer half-opens the circuit after the
// current backoff, which doubles on every opening up to the maximum
// (default one minute). A successful connect or reconnect resets it.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("platt"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithHealthChangeCallback(mirror.ConnectionChanged),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "platt.scenes.abc", payload)
//
// Once connected, the underlying nats.go connection reconnects on its own;
// the client tracks those transitions and reports them through the health
// change callback.
package natsclient
