package listener

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/mrshabel/kvraft/internal/codec"
	"go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"
)

type pusher interface {
	Push(msg raftpb.Message)
}

// Peer runs the replica-to-replica accept loop: it decodes raftpb.Message
// frames and hands them to the engine, with no response ever written
// back (spec.md §4.5 — the peer port is receive-only from the engine's
// perspective; outbound delivery to peers is Network's job).
type Peer struct {
	ln  net.Listener
	eng pusher
	log *zap.Logger
}

// NewPeer binds addr and returns a Peer listener ready to Serve.
func NewPeer(addr string, eng pusher, log *zap.Logger) (*Peer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on peer addr %s: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Peer{ln: ln, eng: eng, log: log.Named("listener.peer")}, nil
}

// Addr returns the listener's bound address.
func (p *Peer) Addr() net.Addr { return p.ln.Addr() }

// Close stops accepting new connections.
func (p *Peer) Close() error { return p.ln.Close() }

// Serve accepts connections until the listener is closed.
func (p *Peer) Serve() error {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go p.handle(conn)
	}
}

func (p *Peer) handle(conn net.Conn) {
	defer conn.Close()

	reader := codec.NewReader(conn)
	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				p.log.Debug("peer connection read error", zap.Error(err))
			}
			return
		}

		var msg raftpb.Message
		if err := msg.Unmarshal(payload); err != nil {
			p.log.Debug("bad raft message frame, dropping connection", zap.Error(err))
			return
		}
		p.eng.Push(msg)
	}
}
