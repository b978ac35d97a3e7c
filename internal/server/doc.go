// Package server implements the realtime core of the chat service: the
// connection registry, presence tracking, direct-message and typing-signal
// routing, connection lifecycle, and the HTTP/WebSocket surface around them.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
