// Package orchestrator coordinates the lifecycle of every unit of a mu project.
//
// It wires the backends to the shared collaborators (runner, supervisor,
// local node, bindings generator, telemetry, history) and implements the
// project-wide operations: adding units, build, deploy and the dev loop.
//
// # Dev loop
//
//	initializing -> starting_frontends -> arming -> watching <-> rebuilding
//
// Functions are built and deployed one after another, then frontends start
// concurrently and must all become reachable. Every function watcher is
// armed, and the first change resolves the wait. The changed function alone
// is rebuilt, redeployed and persisted before its watcher is re-armed.
// Changes to other functions during a rebuild are served afterwards, in the
// order they were observed. Project files are only written by the loop.
package orchestrator
