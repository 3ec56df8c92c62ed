// Package pgframe implements PGFRAME, a cancellation-safe buffered framing
// layer over the Postgres frontend/backend wire protocol. It turns a raw
// byte stream into a sequence of length-prefixed messages without ever
// discarding bytes it has already read but not yet handed to a caller, so
// a read that's interrupted (by context cancellation, for instance) can be
// retried without re-establishing the connection or losing a partial
// frame.
//
// The startup frame is special: it carries no leading message-type byte,
// and besides ordinary StartupMessage frames it may instead be an
// SSLRequest or CancelRequest, neither of which advances the decoder past
// the startup state - a client can send SSLRequest, get a response, and
// then still send its real StartupMessage. Every frame after a genuine
// StartupMessage is typed: one type byte followed by a 4-byte length.
package pgframe
