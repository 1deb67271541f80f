// Package net carries the messages nodes exchange and the transports that
// deliver them.
//
// Every Message is a Header, identifying the sender and the section
// knowledge it holds, and a Body, one of the types of the message
// catalogue. Receivers dispatch on the body's type. The header may carry an
// anti-entropy update so that a receiver with older knowledge can catch up
// before it handles the body.
//
// Messages are one-way: Send returns once the receiving transport has
// accepted the message, not once it has been processed. Ping is the only
// request-response exchange; it is answered by the transport itself and
// tells an elder whether a candidate's advertised address is reachable.
//
// There are two Transports:
//
// - Inmem: in-memory transport used for testing, with UUID addresses
//
// - TCP: plain TCP. Each message is framed by a byte giving its kind,
// followed by the msgpack encoded header and body.
package net
