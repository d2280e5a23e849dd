// Package llm defines the model collaborators used by the orchestrator: a
// reasoning client that supports tool use and forced tool calls, and a fast
// labeler for request classification. Provider adapters live in subpackages.
package llm
