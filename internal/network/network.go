// Package network delivers outbound Raft messages to peers. It owns one
// bounded outbound queue per peer id and a background goroutine per
// peer that drains the queue onto a lazily (re)dialed TCP connection
// (spec.md §4.3).
package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mrshabel/kvraft/internal/codec"
	"go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"
)

// QueueCapacity bounds each peer's outbound queue (spec.md §5 suggests
// 1024 for internal channels).
const QueueCapacity = 1024

// DialTimeout bounds how long a redial attempt waits before giving up
// on that message; Raft is expected to retransmit on loss.
const DialTimeout = 2 * time.Second

type peer struct {
	id    uint64
	queue chan raftpb.Message

	// mu guards addr and conn: addr can be rewritten by a later Add
	// call for the same id while the drain goroutine is mid-redial.
	mu   sync.Mutex
	addr string
	conn net.Conn
}

// Network is the process-wide outbound component described in spec.md
// §4.3. The zero value is not usable; construct with New.
type Network struct {
	log *zap.Logger

	mu    sync.RWMutex
	peers map[uint64]*peer

	stop chan struct{}
}

// New constructs an empty Network.
func New(log *zap.Logger) *Network {
	if log == nil {
		log = zap.NewNop()
	}
	return &Network{
		log:   log.Named("network"),
		peers: make(map[uint64]*peer),
		stop:  make(chan struct{}),
	}
}

// Add installs a queue for id if absent and starts its drain goroutine.
// Calling Add again for an id already present is a no-op other than
// updating its address, matching spec.md §4.3's "create a queue for id
// if absent".
func (n *Network) Add(id uint64, addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.peers[id]; ok {
		p.mu.Lock()
		p.addr = addr
		p.mu.Unlock()
		return
	}

	p := &peer{
		id:    id,
		addr:  addr,
		queue: make(chan raftpb.Message, QueueCapacity),
	}
	n.peers[id] = p
	go n.drain(p)
}

// Send enqueues msg for delivery to id. It never blocks the engine: if
// the peer is unknown or its queue is full, the message is dropped and
// logged (spec.md §4.3, §5: "Raft will retransmit").
func (n *Network) Send(id uint64, msg raftpb.Message) {
	n.mu.RLock()
	p, ok := n.peers[id]
	n.mu.RUnlock()
	if !ok {
		n.log.Warn("dropping message to unknown peer", zap.Uint64("peer_id", id))
		return
	}
	select {
	case p.queue <- msg:
	default:
		n.log.Warn("peer outbound queue full, dropping message", zap.Uint64("peer_id", id))
	}
}

// Peers returns the currently known peer ids.
func (n *Network) Peers() []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]uint64, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every drain goroutine and closes outstanding connections.
func (n *Network) Close() {
	close(n.stop)
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}
}

// drain processes one peer's queue, sending messages in enqueue order
// (spec.md §4.3: "messages enqueued for a given peer are sent in
// enqueue order"). It reuses a single connection across messages and
// redials lazily on write failure, which spec.md explicitly allows as
// an alternative to the source's one-connection-per-message behavior.
func (n *Network) drain(p *peer) {
	for {
		select {
		case <-n.stop:
			return
		case msg := <-p.queue:
			if err := n.deliver(p, msg); err != nil {
				n.log.Warn("failed to deliver message to peer",
					zap.Uint64("peer_id", p.id), zap.Error(err))
			}
		}
	}
}

func (n *Network) deliver(p *peer, msg raftpb.Message) error {
	conn, err := n.connFor(p)
	if err != nil {
		return fmt.Errorf("dial peer %d: %w", p.id, err)
	}

	b, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal raft message: %w", err)
	}
	w := codec.NewWriter(conn)
	if err := w.WriteFrame(b); err != nil {
		p.mu.Lock()
		if p.conn == conn {
			conn.Close()
			p.conn = nil
		}
		p.mu.Unlock()
		return fmt.Errorf("write to peer %d: %w", p.id, err)
	}
	return nil
}

func (n *Network) connFor(p *peer) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := net.DialTimeout("tcp", p.addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}
