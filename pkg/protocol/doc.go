// Package protocol knows how each supported wire protocol frames its messages.
//
// Text protocols are rewritten through Message, a parsed view of a request that
// keeps every untouched byte as it was recorded, so Parse(raw).Bytes() == raw.
// A Dialect bundles the per-protocol rules the session driver needs: how to stamp
// the sequence number and session token into an outgoing payload, how to pull a
// token out of a response, how to name a response for transcript comparison and
// how to get a stuck server back on track.
package protocol
