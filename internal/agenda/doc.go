// Package agenda orders rule activations and selects the next one to fire.
//
// Each module has its own activation list. Lists are kept sorted by
// salience, then by the conflict resolution strategy, then by creation
// sequence, so selection is deterministic for every strategy except
// random (which is deterministic for a fixed seed). The focus stack picks
// the module whose list fires next.
package agenda
