// Package engine ties the production system together.
//
// An Environment owns one module table, template registry, working
// memory, match network and agenda. Fact changes flow from the store to
// the network through a sink that also writes watch traces and notifies
// observers; terminal tokens flow from the network to the agenda the same
// way. Run pops activations from the focused module and evaluates the
// rule's actions with the builtin function library.
//
// Execution is single-threaded and deterministic. Timetags and activation
// numbers come from a logical Clock; the random strategy and the random
// function are seeded. Environments share nothing, so independent
// environments may run on separate goroutines.
//
// Run state:
//
//	Idle --Run--> Running --agenda empty or limit--> Idle
//	                      --halt or action error---> Halted
//	Halted --Run/Reset--> ...
package engine
