// Package policy gates remediation methods with Rego policies.
//
// The engine is consulted during candidate prioritization: each eligible
// method is presented to every enabled policy together with a snapshot of the
// run context, and any error-or-worse violation vetoes the method for that
// cycle. Policies come from two sources, built-in rules compiled at startup
// and operator-supplied .rego or .json files loaded from a policy directory.
package policy
