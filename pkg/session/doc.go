/*
Package session drives one protocol conversation against a freshly started server.

A Driver replays the recorded messages of a transcript over a single connection,
swaps the message at the injection index for a mutated payload and keeps the
connection-level state (sequence counter, sticky session token) consistent in every
message it sends. It never starts or stops servers; that is the lifecycle
manager's job.
*/
package session
