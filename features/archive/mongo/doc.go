// Package mongo registers MongoDB-backed turn archive storage.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain an archive.Store that persists finished turns.
package mongo
