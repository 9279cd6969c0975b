/*
Package ports defines the driven ports (interfaces) of the replay harness.

These interfaces decouple the scheduler and the session driver from the filesystem,
the server process and the persistence backend, so every component can be exercised
with in-memory fakes.

# Key Interfaces

  - MessageStore: Resolves the recorded payload of a (state, media) pair.
  - Corpus: Lists, reads and consumes mutation candidate files.
  - Ledger: Remembers consumed trials and per-pair quota counters.
  - Launcher / ServerHandle: Starts and stops the target server.
  - Collector: Claims the coverage artifact a trial produced.
  - DistributedLocker: Serializes access to the shared target address.
*/
package ports
