// Package rag assembles the background text handed to the reasoning model:
// recent actions, user preferences, project details, semantic matches and
// content quality insights. Every lookup degrades to an empty string on its own.
package rag
