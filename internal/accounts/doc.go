// Package accounts owns the append-only credential store.
//
// Records are fixed width: two NUL-padded fields of RecordFieldLen bytes
// (25 usable bytes plus a terminator). Records are never rewritten or deleted.
package accounts
