// Package planner turns a multi-step request into a dependency-ordered plan
// through a single forced create_plan tool call to the reasoning model.
package planner
