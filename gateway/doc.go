// Package gateway holds what the client-facing HTTP surfaces share: the
// gateway configuration and the HTTPHandler contract used to mount routes
// on the backend's single HTTP server.
//
// # Surfaces
//
//   - gateway/http: the REST API under /api (scenes, datasets, selections,
//     mesh payloads)
//   - output/websocket: the push channel under /websocket/{scene}
//
// # CORS
//
// CORS is off by default. Enabling it requires explicit origins:
//
//	gateway:
//	  enable_cors: true
//	  cors_origins: ["http://localhost:3000"]
package gateway
