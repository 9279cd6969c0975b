/*
Package domain contains the core models of the replay fuzzing harness.

It defines the recorded conversation (Transcript), the unit of work (Trial), the
per-connection protocol state (SessionState) and the outcome taxonomy. This package
is kept free of I/O so that the scheduler, the session driver and the adapters can
share it without import cycles.

# Key Entities

  - Transition: One recorded step of a legitimate conversation (state, expected response).
  - Transcript: The ordered list of transitions. Each index is an injection point.
  - Trial: One attempt of fresh server + one mutated message + teardown.
  - SessionState: The sequence counter and sticky session token of one connection.
  - TrialResult: What happened during a trial, including every message sent.
*/
package domain
