package gateway

import (
	"net/http"
)

// HTTPHandler is implemented by components that expose routes on the
// backend's HTTP server: the REST gateway and the WebSocket hub.
//
// The prefix parameter is the URL path prefix the routes are mounted
// under, e.g. "/api" or "/websocket".
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
