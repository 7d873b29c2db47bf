package network

import (
	"net"
	"testing"
	"time"

	"github.com/mrshabel/kvraft/internal/codec"
	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"
)

func TestNetwork(t *testing.T) {
	table := map[string]func(t *testing.T){
		"send to unknown peer is dropped silently": testSendUnknownPeer,
		"delivers message to listening peer":       testDeliversMessage,
	}
	for scenario, fn := range table {
		t.Run(scenario, fn)
	}
}

func testSendUnknownPeer(t *testing.T) {
	n := New(nil)
	defer n.Close()

	// must not panic or block
	n.Send(99, raftpb.Message{To: 99})
	require.Empty(t, n.Peers())
}

func testDeliversMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan raftpb.Message, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := codec.NewReader(conn)
		payload, err := r.ReadFrame()
		if err != nil {
			return
		}
		var msg raftpb.Message
		if err := msg.Unmarshal(payload); err != nil {
			return
		}
		received <- msg
	}()

	n := New(nil)
	defer n.Close()

	n.Add(1, ln.Addr().String())
	n.Send(1, raftpb.Message{To: 1, From: 2, Term: 7})

	select {
	case msg := <-received:
		require.EqualValues(t, 1, msg.To)
		require.EqualValues(t, 2, msg.From)
		require.EqualValues(t, 7, msg.Term)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}
