// Package agent contains the request orchestrator. It classifies each request,
// answers single-step requests through a bounded tool-use loop and drives
// multi-step requests through planning, execution and optional validation,
// streaming progress events to the caller and closing the stream exactly once.
package agent
