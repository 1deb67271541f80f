package net

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/resourceproof"
	"github.com/mosaicnetworks/sectionnet/src/section"
	"github.com/mosaicnetworks/sectionnet/src/section/sectiontest"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, addr string, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport(addr)
		return it
	case TCP:
		tt, err := NewTCPTransport(addr, "", 2, time.Second, common.NewTestEntry(t, "net"))
		if err != nil {
			t.Fatal(err)
		}
		go tt.Listen()
		return tt
	default:
		panic("Unknown transport type")
	}
}

func connect(ttype int, trans1, trans2 Transport) {
	if ttype != INMEM {
		return
	}
	itrans1 := trans1.(*InmemTransport)
	itrans2 := trans2.(*InmemTransport)
	itrans1.Connect(trans2.LocalAddr(), trans2)
	itrans2.Connect(trans1.LocalAddr(), trans1)
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_Send(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	candidate := sectiontest.NewNode(t, 5, "candidate")

	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		rpcCh := trans1.Consumer()

		header := Header{
			Sender:     *candidate.Peer,
			Generation: 0,
			SectionKey: s.SAP().SectionKey(),
			Update: &AntiEntropyUpdate{
				Chain:   s.Chain,
				Members: s.Members,
			},
		}
		body := &JoinRequest{
			Kind:       SubmitResourceProof,
			Candidate:  *candidate.Peer,
			SectionKey: s.SAP().SectionKey(),
			Proof:      &resourceproof.Proof{Nonce: []byte("nonce"), Counter: 42},
		}
		msg := NewMessage(header, body)

		errCh := make(chan error, 1)
		go func() {
			select {
			case rpc := <-rpcCh:
				req, ok := rpc.Message.Body.(*JoinRequest)
				if !ok {
					errCh <- nil
					t.Errorf("unexpected body %T", rpc.Message.Body)
					rpc.Respond(nil)
					return
				}
				if req.Kind != SubmitResourceProof || req.Proof == nil || req.Proof.Counter != 42 {
					t.Errorf("command mismatch: %#v", req)
				}
				if req.Candidate.Name() != candidate.Name() {
					t.Errorf("candidate mismatch")
				}
				if rpc.Message.Header.ID != msg.Header.ID {
					t.Errorf("id mismatch")
				}
				update := rpc.Message.Header.Update
				if update == nil || update.Chain.Verify() != nil || len(update.Members) != 4 {
					t.Errorf("update did not survive the trip")
				}
				rpc.Respond(nil)
				errCh <- nil
			case <-time.After(2 * time.Second):
				errCh <- nil
				t.Errorf("timeout")
			}
		}()

		if err := trans2.Send(trans1.LocalAddr(), msg); err != nil {
			t.Fatalf("err: %v", err)
		}
		<-errCh
	}
}

func TestTransport_SendRefused(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		go func() {
			rpc := <-trans1.Consumer()
			rpc.Respond(errRefused)
		}()

		msg := NewMessage(Header{}, &AntiEntropyRequest{Generation: 3})
		err := trans2.Send(trans1.LocalAddr(), msg)
		if err == nil || err.Error() != errRefused.Error() {
			t.Fatalf("expected refusal, got %v", err)
		}
	}
}

type refusal string

func (r refusal) Error() string { return string(r) }

const errRefused = refusal("refused")

func TestTransport_Ping(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		addr := trans1.LocalAddr()
		if err := trans2.Ping(addr, time.Second); err != nil {
			t.Fatalf("ping failed: %v", err)
		}

		trans1.Close()
		if err := trans2.Ping(addr, 200*time.Millisecond); err == nil {
			t.Fatalf("ping of a closed transport should fail")
		}
	}
}

func TestMessageCodec(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	candidate := sectiontest.NewNode(t, 5, "candidate")

	state := &section.NodeState{Peer: *candidate.Peer, State: section.Joined}
	vote, err := membership.NewVote(*s.Elders[0].Peer, membership.NewNodeIsOnline(state), s.Shares[0], s.Elders[0].Key)
	if err != nil {
		t.Fatal(err)
	}

	age := uint8(7)
	bodies := []interface{}{
		vote,
		&JoinResponse{Kind: Retry, SAP: s.Chain.Last(), ExpectedAge: &age},
		&LeaveRequest{Peer: *candidate.Peer, Signature: "sig"},
	}

	for _, body := range bodies {
		msg := NewMessage(Header{Sender: *s.Elders[0].Peer, Prefix: peers.Prefix("")}, body)
		kind, payload, err := msg.Encode()
		if err != nil {
			t.Fatal(err)
		}
		out, err := DecodeMessage(kind, payload)
		if err != nil {
			t.Fatal(err)
		}
		if out.Kind() != msg.Kind() {
			t.Fatalf("kind mismatch: %s %s", out.Kind(), msg.Kind())
		}
		if out.Header.Sender.Name() != s.Elders[0].Name() {
			t.Fatalf("sender mismatch")
		}
	}

	// The decoded vote still verifies.
	kind, payload, _ := NewMessage(Header{}, vote).Encode()
	out, err := DecodeMessage(kind, payload)
	if err != nil {
		t.Fatal(err)
	}
	e := membership.NewEngine(common.NewTestEntry(t, "test"))
	if _, err := e.AddVote(out.Body.(*membership.Vote), s.SAP()); err != nil {
		t.Fatalf("decoded vote rejected: %v", err)
	}

	if _, err := KindOf("not a message"); err == nil {
		t.Fatalf("expected an error for an unknown body")
	}
}
