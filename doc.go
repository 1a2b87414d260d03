// Package platt is the backend of a browser viewer for finite-element
// simulation results.
//
// It serves datasets stored below a local data directory and, when a data
// proxy is configured, remote datasets fetched through it. Browsers group
// datasets into scenes over a REST API (gateway/http); the backend extracts
// the outer surface of each mesh (surface), extrapolates element fields onto
// it (parser), and pushes change notifications over WebSocket
// (output/websocket) and, optionally, NATS (output/nats).
//
// Remote data flows through the proxy link (proxy), a shared file cache
// (filecache) and a mirror of the proxy's index (index). Subscriptions
// (subscription) follow the newest timestep of a remote dataset.
//
// The binary lives in cmd/platt.
package platt
