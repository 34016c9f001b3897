// Package state holds the persisted reconciliation state and the
// file-backed store that loads, saves and locks it.
//
// One hook invocation loads the whole document, mutates it in memory and
// writes it back atomically, all while holding the state lock.
package state
