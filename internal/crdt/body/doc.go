// Package body implements the Body CRDT: a per-file sequence CRDT
// supporting concurrent text editing with intention preservation, plus
// interval marks (bold/italic/etc.) layered over the character
// sequence. The body is opaque text; markdown structure, if any, is a
// rendering concern layered above this package.
package body
