// Package executor runs a plan's steps in dependency order against the tool
// dispatcher. Independent steps run concurrently up to a configured limit;
// results always come back in the plan's declared order.
package executor
