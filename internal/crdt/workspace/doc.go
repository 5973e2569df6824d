// Package workspace implements the Workspace CRDT: the replicated,
// conflict-free map from file path to file metadata that a Diaryx
// workspace uses to track its directory structure, frontmatter, and
// attachment references independently of any one file's body content.
//
// Every mutating method returns the encoded update it produced so the
// caller can hand it to a causal log for durable, ordered storage;
// ApplyRemote decodes and merges updates produced elsewhere. Both paths
// share the same per-field merge logic, so local and remote writes are
// guaranteed to converge identically regardless of delivery order.
package workspace
