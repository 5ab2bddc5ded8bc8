// Package server implements the HTTP surface of GoChat: the authenticated
// WebSocket endpoint that admits connections into the realtime hub, the chat
// REST API, health and metrics.
//
// Configuration, logging and origin policy live here too so cmd/server only
// has to assemble the pieces.
package server
