package net

// RPCResponse carries the receiver's acceptance of a message.
type RPCResponse struct {
	Error error
}

// RPC encapsulates an incoming message and provides a response mechanism.
type RPC struct {
	Message  *Message
	RespChan chan<- RPCResponse
}

// Respond acknowledges the message, with an error if it was refused.
func (r *RPC) Respond(err error) {
	r.RespChan <- RPCResponse{err}
}
