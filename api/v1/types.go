// Package v1 defines the wire schema for the public and peer protocols:
// client requests and responses, the opaque Raft log-entry payload, the
// peer directory entry carried through configuration changes, and the
// snapshot file's inner blob. Every type here round-trips through
// msgpack, which plays the role protobuf plays in the original system.
package v1

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel errors surfaced by the engine and listeners. These never wrap
// a transport status code: there is no RPC framework in this protocol,
// only raw framed bytes, so callers turn these into a Response or a
// dropped connection as spec.md §7 directs.
var (
	ErrInvalidPeerID    = errors.New("kvraft: peer id must be greater than zero")
	ErrDuplicatePeer    = errors.New("kvraft: peer already present in directory")
	ErrUnknownPeer      = errors.New("kvraft: unknown peer id")
	ErrNoLeader         = errors.New("kvraft: no leader available")
	ErrProposalDropped  = errors.New("kvraft: proposal dropped")
	ErrUnknownRequest   = errors.New("kvraft: unknown request kind")
	ErrCorruptSnapshot  = errors.New("kvraft: snapshot file is corrupt")
	ErrCorruptEntry     = errors.New("kvraft: log entry payload is corrupt")
)

// RequestKind identifies which variant of a Request is populated.
type RequestKind uint8

const (
	ReqGet RequestKind = iota + 1
	ReqSet
	ReqDelete
	ReqScan
	ReqPing
	ReqAddNode
	ReqRemoveNode
	ReqInfo
)

// Request is the one-of envelope clients send on the public port.
type Request struct {
	Kind RequestKind `msgpack:"kind"`

	Key   string `msgpack:"key,omitempty"`
	Value string `msgpack:"value,omitempty"`

	PeerID    uint64 `msgpack:"peer_id,omitempty"`
	Addr      string `msgpack:"addr,omitempty"`
	IsLearner bool   `msgpack:"is_learner,omitempty"`
}

// Marshal encodes r as msgpack bytes.
func (r *Request) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return b, nil
}

// UnmarshalRequest decodes msgpack bytes into a Request. An empty (zero
// length) payload decodes to the schema's default-constructed Request,
// matching spec.md §4.1's "zero-length payload is valid" rule.
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	if len(b) == 0 {
		return r, nil
	}
	if err := msgpack.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return r, nil
}

// ResponseKind identifies which variant of a Response is populated.
type ResponseKind uint8

const (
	RespGet ResponseKind = iota + 1
	RespDelete
	RespScan
	RespPong
	RespInfo
	RespAck
)

// Response is the one-of envelope replicas send back on the public port.
type Response struct {
	Kind ResponseKind `msgpack:"kind"`

	// Success carries the top-level ack bit for SET / ADD_NODE /
	// REMOVE_NODE requests (spec.md §6).
	Success bool `msgpack:"success,omitempty"`

	IsFound bool   `msgpack:"is_found,omitempty"`
	Value   string `msgpack:"value,omitempty"`
	Keys    []string `msgpack:"keys,omitempty"`

	ID           uint64   `msgpack:"id,omitempty"`
	LeaderID     uint64   `msgpack:"leader_id,omitempty"`
	Term         uint64   `msgpack:"term,omitempty"`
	AppliedIndex uint64   `msgpack:"applied_index,omitempty"`
	Peers        []uint64 `msgpack:"peers,omitempty"`
}

// Marshal encodes r as msgpack bytes.
func (r *Response) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return b, nil
}

// UnmarshalResponse decodes msgpack bytes into a Response.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	if len(b) == 0 {
		return r, nil
	}
	if err := msgpack.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return r, nil
}

// EntryKind identifies the payload carried by a normal Raft log entry.
type EntryKind uint8

const (
	EntrySet EntryKind = iota + 1
	EntryDelete
)

// Entry is the opaque payload stored in a normal Raft log entry (spec.md
// §3, §6). Conf-change callbacks don't use Entry at all: they ride the
// ConfChange's own ID field instead (see internal/engine.proposeConfChange).
type Entry struct {
	CallbackID uint64    `msgpack:"callback_id"`
	Kind       EntryKind `msgpack:"kind"`
	Key        string    `msgpack:"key,omitempty"`
	Value      string    `msgpack:"value,omitempty"`
}

// Marshal encodes e as msgpack bytes.
func (e *Entry) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return b, nil
}

// UnmarshalEntry decodes msgpack bytes into an Entry.
func UnmarshalEntry(b []byte) (*Entry, error) {
	e := &Entry{}
	if err := msgpack.Unmarshal(b, e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return e, nil
}

// Peer is one entry in the replicated peer directory, carried as the
// context of an AddNode ConfChange and embedded in the snapshot blob.
type Peer struct {
	ID   uint64 `msgpack:"id"`
	Addr string `msgpack:"addr"`
}

// Marshal encodes p as msgpack bytes.
func (p *Peer) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal peer: %w", err)
	}
	return b, nil
}

// UnmarshalPeer decodes msgpack bytes into a Peer.
func UnmarshalPeer(b []byte) (*Peer, error) {
	p := &Peer{}
	if err := msgpack.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("unmarshal peer: %w", err)
	}
	return p, nil
}

// Datum is one key/value pair inside a snapshot's Snap payload.
type Datum struct {
	Key   string `msgpack:"key"`
	Value string `msgpack:"value"`
}

// Snap is the inner payload of a Raft Snapshot's Data field: the
// replicated kv map and peer directory, serialized together so a
// restart can rebuild both from one file (spec.md §6).
type Snap struct {
	Data  []Datum `msgpack:"data"`
	Peers []Peer  `msgpack:"peers"`
}

// Marshal encodes s as msgpack bytes.
func (s *Snap) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snap: %w", err)
	}
	return b, nil
}

// UnmarshalSnap decodes msgpack bytes into a Snap.
func UnmarshalSnap(b []byte) (*Snap, error) {
	s := &Snap{}
	if err := msgpack.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return s, nil
}
