// Package websocket provides the push channel of the viewer backend: a hub
// of WebSocket clients grouped by scene.
//
// # Overview
//
// Clients connect to /websocket/{scene} after creating or joining a scene.
// The hub implements scene.Notifier; every update broadcast for a scene is
// written as one JSON text frame to each client of that scene:
//
//	{"datasetHash": "...", "update": "mesh", "hashes": {"mesh": "...", "field": "..."}, "field_type": "nodal"}
//
// The frame carries hashes only. Clients fetch the payloads over REST and
// skip the fetch when they already hold the hashed data.
//
// # Client Management
//
// Each client gets:
//
//   - a read goroutine that answers pongs and detects disconnects
//   - a write mutex, since gorilla/websocket forbids concurrent writes
//   - a write deadline per frame; a failed write drops the client
//
// A maintenance goroutine pings every client at PingInterval. Connections
// for unknown scenes are refused with 404 before the upgrade.
//
// # Metrics
//
//	platt_websocket_clients_connected
//	platt_websocket_client_connections_total
//	platt_websocket_messages_sent_total
//	platt_websocket_bytes_sent_total
//	platt_websocket_errors_total
package websocket
