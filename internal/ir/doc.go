// Package ir provides the value model and construct descriptors shared by
// every prodsys package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps ir the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a sealed interface; Symbol and InstanceName are interned
//   - Equal is kind-sensitive: Integer 1 and Float 1.0 differ
//   - Descriptors (TemplateSpec, RuleSpec, ...) are plain data; building them
//     into runtime structures is the job of the template and rete packages
//   - Every failure is an *Error carrying an ErrorKind
package ir
