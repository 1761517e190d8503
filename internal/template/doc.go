// Package template implements the template registry: deftemplate schemas,
// implied templates for ordered facts, slot constraint validation and
// default values.
//
// Validation is all-or-nothing. Build and Update either return a complete
// value vector or an error, never a partially checked result.
package template
