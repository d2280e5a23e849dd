// Package classifier labels a request as single-step or multi-step.
package classifier
