// Package worker owns the request loop between the parent process and the
// messaging library.
//
// Ownership boundary:
// - envelope validation and command dispatch
//
// - the socket handle table
//
// - mapping library outcomes onto reply terms
//
// Failure classes:
// - *FatalError ends the process; the peer and the worker can no longer
// agree on the stream.
//
// - everything else is a reply term and the loop continues.
package worker
