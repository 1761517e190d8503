// Package router carries engine output to pluggable sinks.
//
// Engine text is addressed to logical names (stdout, stderr, stdwrn or
// any user name) instead of streams. A Set offers each write to its
// active routers in priority order; the first router whose Query accepts
// the name receives it. Embedders capture or redirect output by adding a
// router with a higher priority.
package router
