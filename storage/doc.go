// Package storage provides the durable key-value layer of the ledger and
// the typed primitives built on it.
//
// A Store is a flat ordered byte-key space. Value, Map and DoubleMap put
// RLP-encoded records under fixed prefixes; Counter and Toggle are the
// singleton numeric and boolean cells the messenger keeps. Iteration is
// always in ascending key order so every replica observes the same sequence.
package storage
