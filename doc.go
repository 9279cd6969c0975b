/*
Package replayfuzz is a replay fuzzing harness for stateful network servers.

A recorded client transcript is an ordered list of protocol states. For every trial the
harness starts a fresh instance of the target, replays the recorded messages up to a
chosen state, sends one mutation file in that state's place, optionally finishes the
conversation, stops the target and archives the coverage dump it wrote.

# Layout

  - pkg/domain: transcripts, trials, outcomes, lifecycle hooks.
  - pkg/protocol: per-protocol dialects (RTSP, FTP, MQTT) that rewrite sequence numbers and session tokens.
  - pkg/session: the conversation driver for a single trial.
  - pkg/scheduler: state selection policies, quotas and the run loop.
  - pkg/adapters: file, memory and redis backends plus the target process manager.
  - pkg/coverage: claims and archives coverage dumps.

# Usage

The replayfuzz command reads replayfuzz.yaml from the working directory:

	replayfuzz validate
	replayfuzz baseline
	replayfuzz run --duration 1h --status 127.0.0.1:9090
	replayfuzz replay --state SETUP mutations/SETUP/SETUP_crash.raw
*/
package replayfuzz
