package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory address with a random UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
	closed     bool
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 64),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    time.Second,
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

func (i *InmemTransport) peer(target string) (*InmemTransport, error) {
	i.RLock()
	peer, ok := i.peers[target]
	closed := i.closed
	i.RUnlock()

	if closed {
		return nil, ErrTransportShutdown
	}
	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	peer.RLock()
	defer peer.RUnlock()
	if peer.closed {
		return nil, fmt.Errorf("peer %v is closed", target)
	}

	return peer, nil
}

// Send implements the Transport interface. Messages go through an
// encode/decode cycle so that receivers never share memory with senders.
func (i *InmemTransport) Send(target string, msg *Message) error {
	peer, err := i.peer(target)
	if err != nil {
		return err
	}

	kind, payload, err := msg.Encode()
	if err != nil {
		return err
	}
	copied, err := DecodeMessage(kind, payload)
	if err != nil {
		return err
	}

	respCh := make(chan RPCResponse, 1)
	timeout := time.After(i.timeout)

	select {
	case peer.consumerCh <- RPC{Message: copied, RespChan: respCh}:
	case <-timeout:
		return fmt.Errorf("send to %v timed out", target)
	}

	select {
	case resp := <-respCh:
		return resp.Error
	case <-timeout:
		return fmt.Errorf("command timed out")
	}
}

// Ping implements the Transport interface.
func (i *InmemTransport) Ping(target string, timeout time.Duration) error {
	_, err := i.peer(target)
	return err
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	i.Lock()
	i.closed = true
	i.Unlock()
	return nil
}

// Listen is an empty function as there is no need to defer initialisation of
// the in-memory transport.
func (i *InmemTransport) Listen() {
}
