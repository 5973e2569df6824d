// Package domain defines the core domain types for the sync core.
//
// Domain types are pure value objects without any IO dependencies or
// framework coupling:
//
//   - Errors: structured domain error definitions shared by every layer.
//
// The CRDT types themselves (crdt/workspace, crdt/body) and the causal log
// entry shape (storage/causallog) are deliberately kept out of this package:
// they are data structures with merge/append semantics, not business-rule
// entities, and belong closer to the code that operates on them.
package domain
