// Package archive implements the workspace snapshot archive: a zip of
// the workspace's current materialized file tree (a rendered
// frontmatter block plus the body text per file), consistent with a
// single state vector recorded in the archive's metadata trailer.
//
// Archives bootstrap new clients without streaming the full causal
// log, and uploads are replayed *through* the CRDTs under the server's
// client id — the log stays the single source of truth; the archive
// never bypasses it.
package archive
