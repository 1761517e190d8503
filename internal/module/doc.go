// Package module implements the module context: the set of defined modules,
// the current module, import/export visibility, and defglobal variables.
//
// Every construct name lookup goes through Table.Resolve, which searches
// the current module first and then the modules it imports, in declaration
// order.
package module
