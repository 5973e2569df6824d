// Package main provides the entry point for diaryx-relay-cli.
//
// diaryx-relay-cli is the command-line management tool for relay
// operators: status, garbage collection, and snapshot management.
package main
