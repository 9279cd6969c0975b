// Package file implements the harness ports on the local filesystem: the recorded
// message directory, the mutation corpus tree, a JSON checkpoint ledger and the
// session transcript loader.
package file
