// Package validator judges executed plan results against the plan's intent.
// A validator that cannot reach a verdict reports a failed validation.
package validator
