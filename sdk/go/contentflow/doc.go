// Package contentflow is a Go client for the ContentFlow HTTP API. Submit
// returns the server-sent event stream of a request; Run collects it into the
// final response text.
package contentflow
