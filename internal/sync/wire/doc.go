// Package wire defines the sync protocol's frame formats: the binary
// CRDT sync frames (Step1/Step2/Update, doc-id prefixed) and the JSON
// control messages exchanged as text frames.
//
// Binary frames carry [u8 doc-id-length][doc-id][tag][sub][body].
// Doc-id is ASCII; length 0 is reserved. The "workspace:" and "body:"
// doc-id prefixes route a frame to the corresponding CRDT type.
//
// A server receiving an unknown framing on /sync2 closes with code
// 4400 (unsupported protocol); the endpoint name is the wire version.
package wire
