package net

import (
	"net"
	"time"
)

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to consume and acknowledge
	// incoming messages.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Send delivers a message to the target and waits for it to be accepted.
	Send(target string, msg *Message) error

	// Ping checks that a transport answers at target within timeout.
	Ping(target string, timeout time.Duration) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

// StreamLayer is the connection-oriented layer under a NetworkTransport.
type StreamLayer interface {
	net.Listener

	// Dial opens a connection to address, giving up after timeout.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address other nodes should dial.
	AdvertiseAddr() string
}
