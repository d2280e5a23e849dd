// Package api exposes the HTTP surface of the orchestrator: request
// submission streamed back as server-sent events, session history lookup, the
// tool catalog, a health check and the metrics endpoint.
package api
