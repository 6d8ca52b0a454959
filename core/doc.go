// Package core defines the identifiers and records shared by every part
// of the ledger: messages, dispatches, programs and events.
//
// The types here are plain data. Persistence lives in the storage package
// and behavior in queue, mailbox, messenger and journal.
package core
