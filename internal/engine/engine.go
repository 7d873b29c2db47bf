// Package engine implements the replica's single-threaded core: the
// event loop that multiplexes ticks, client commands, and peer Raft
// messages onto a Raft RawNode, drives its Ready cycle, and resolves
// in-flight client callbacks as entries commit (spec.md §4.4).
package engine

import (
	"errors"
	"fmt"

	v1 "github.com/mrshabel/kvraft/api/v1"
	"github.com/mrshabel/kvraft/internal/network"
	"github.com/mrshabel/kvraft/internal/storage"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"
)

// ClientCmd carries a decoded request and the sink its response is
// delivered to, exactly the Command{request, tx} pairing the listener
// builds per connection (spec.md §4.4, §4.5).
type ClientCmd struct {
	Request *v1.Request
	Reply   chan<- *v1.Response
}

// event is the engine's single input type: Tick | ClientCmd | RaftMsg |
// Stop (spec.md §4.4).
type event interface{ isEvent() }

type tickEvent struct{}
type clientCmdEvent struct{ cmd *ClientCmd }
type raftMsgEvent struct{ msg raftpb.Message }
type stopEvent struct{}

func (tickEvent) isEvent()      {}
func (clientCmdEvent) isEvent() {}
func (raftMsgEvent) isEvent()   {}
func (stopEvent) isEvent()      {}

// Config holds the engine's Raft tuning and identity.
type Config struct {
	ID            uint64
	ElectionTick  int
	HeartbeatTick int

	// CompactCommittedLog enables compacting the Raft log up to the
	// snapshot index after each snapshot (SPEC_FULL.md Open Question
	// #2). The source leaves compaction disabled; this defaults to
	// true, the recommended behavior.
	CompactCommittedLog bool
}

// DefaultConfig returns the tick configuration spec.md §4.4 names:
// election tick 10, heartbeat tick 1.
func DefaultConfig(id uint64) Config {
	return Config{
		ID:                  id,
		ElectionTick:        10,
		HeartbeatTick:       1,
		CompactCommittedLog: true,
	}
}

type pendingCmd struct {
	reply chan<- *v1.Response
}

// Engine is the core described by spec.md §4.4. It owns the Raft node,
// the Storage handle, the Network handle, and the Pending Command
// Table, and is driven entirely by Run — no other goroutine may touch
// its state.
type Engine struct {
	cfg   Config
	node  *raft.RawNode
	store *storage.Store
	net   *network.Network
	log   *zap.Logger

	events chan event
	closed chan struct{}

	pending     map[uint64]pendingCmd
	callbackSeq uint64
}

// New builds an Engine. If store holds neither a HardState nor any log
// or snapshot state, this bootstraps a fresh single-member group
// containing only cfg.ID; otherwise the Raft node resumes from what the
// store already holds. Additional members join later via ADD_NODE conf
// changes (spec.md §4.4).
func New(cfg Config, store *storage.Store, net *network.Network, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	raftCfg := &raft.Config{
		ID:                        cfg.ID,
		ElectionTick:              cfg.ElectionTick,
		HeartbeatTick:             cfg.HeartbeatTick,
		Storage:                   store,
		MaxSizePerMsg:             1024 * 1024,
		MaxInflightMsgs:           256,
		MaxUncommittedEntriesSize: 1 << 30,
		PreVote:                   true,
	}

	node, err := raft.NewRawNode(raftCfg)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}

	hs, _, err := store.InitialState()
	if err != nil {
		return nil, fmt.Errorf("read initial raft state: %w", err)
	}
	lastIndex, err := store.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("read last raft index: %w", err)
	}
	if raft.IsEmptyHardState(hs) && lastIndex == 0 {
		if err := node.Bootstrap([]raft.Peer{{ID: cfg.ID}}); err != nil {
			return nil, fmt.Errorf("bootstrap raft group: %w", err)
		}
	}

	return &Engine{
		cfg:     cfg,
		node:    node,
		store:   store,
		net:     net,
		log:     log.Named("engine"),
		events:  make(chan event, 1024),
		closed:  make(chan struct{}),
		pending: make(map[uint64]pendingCmd),
	}, nil
}

// Tick enqueues a Tick event. Callers (typically a ticker goroutine
// wired up by the node package) call this at the configured tick
// interval, default 100ms per spec.md §4.4.
func (e *Engine) Tick() {
	e.send(tickEvent{})
}

// Submit enqueues a decoded client command for dispatch.
func (e *Engine) Submit(cmd *ClientCmd) {
	e.send(clientCmdEvent{cmd: cmd})
}

// Push enqueues a Raft message received from a peer.
func (e *Engine) Push(msg raftpb.Message) {
	e.send(raftMsgEvent{msg: msg})
}

// Stop enqueues a Stop event. The loop terminates once it's processed;
// any replies still in flight are dropped, per spec.md §5.
func (e *Engine) Stop() {
	e.send(stopEvent{})
}

func (e *Engine) send(ev event) {
	select {
	case e.events <- ev:
	case <-e.closed:
	}
}

// Run is the event loop: block for one event, dispatch it, always drive
// the Ready cycle, then loop (spec.md §4.4). It returns once a Stop
// event has been processed.
func (e *Engine) Run() {
	defer close(e.closed)
	for {
		ev := <-e.events
		if _, ok := ev.(stopEvent); ok {
			return
		}
		e.handle(ev)
		e.driveReady()
	}
}

func (e *Engine) handle(ev event) {
	switch v := ev.(type) {
	case tickEvent:
		e.node.Tick()
	case clientCmdEvent:
		e.dispatch(v.cmd)
	case raftMsgEvent:
		if err := e.node.Step(v.msg); err != nil {
			e.log.Debug("step rejected", zap.Error(err))
		}
	}
}

// dispatch matches the request kind and either answers immediately from
// Storage/Raft status, or proposes an Entry/ConfChange and parks the
// command in the Pending Command Table until it commits (spec.md §4.4
// "ClientCmd dispatch").
func (e *Engine) dispatch(cmd *ClientCmd) {
	req := cmd.Request
	switch req.Kind {
	case v1.ReqPing:
		e.reply(cmd, &v1.Response{Kind: v1.RespPong})

	case v1.ReqGet:
		value, found := e.store.Get(req.Key)
		e.reply(cmd, &v1.Response{Kind: v1.RespGet, IsFound: found, Value: value})

	case v1.ReqScan:
		e.reply(cmd, &v1.Response{Kind: v1.RespScan, Keys: e.store.Scan()})

	case v1.ReqInfo:
		e.reply(cmd, e.infoResponse())

	case v1.ReqSet:
		e.proposeEntry(cmd, &v1.Entry{Kind: v1.EntrySet, Key: req.Key, Value: req.Value})

	case v1.ReqDelete:
		e.proposeEntry(cmd, &v1.Entry{Kind: v1.EntryDelete, Key: req.Key})

	case v1.ReqAddNode:
		e.proposeConfChange(cmd, raftpb.ConfChangeAddNode)

	case v1.ReqRemoveNode:
		e.proposeConfChange(cmd, raftpb.ConfChangeRemoveNode)

	default:
		// A zero-length frame (explicitly valid per spec.md §4.1) decodes
		// to Kind 0, an unknown kind. The public listener blocks
		// synchronously on this command's reply channel, so it must
		// always get an answer — never silently dropping one here is
		// what keeps a malformed frame from wedging the connection
		// forever (spec.md §7 permits this defensive reply).
		e.log.Warn("unknown request kind", zap.Uint8("kind", uint8(req.Kind)))
		e.reply(cmd, &v1.Response{Kind: v1.RespAck, Success: false})
	}
}

// infoResponse reports membership from Raft's own tracked configuration
// rather than the address-book Peer directory in Storage: the
// directory is only populated by ADD_NODE conf changes that carry an
// address (proposeConfChange), so a lone bootstrapped node — whose
// only conf change is the context-less self-add in New — would
// otherwise never see its own id in INFO, contradicting spec.md §8 S4
// ("info.peers lists the node's own id").
func (e *Engine) infoResponse() *v1.Response {
	status := e.node.Status()

	seen := make(map[uint64]struct{})
	var ids []uint64
	add := func(id uint64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, half := range status.Config.Voters {
		for id := range half {
			add(id)
		}
	}
	for id := range status.Config.Learners {
		add(id)
	}

	return &v1.Response{
		Kind:         v1.RespInfo,
		ID:           e.cfg.ID,
		LeaderID:     status.Lead,
		Term:         status.Term,
		AppliedIndex: status.Applied,
		Peers:        ids,
	}
}

func (e *Engine) proposeEntry(cmd *ClientCmd, entry *v1.Entry) {
	id := e.nextCallbackID()
	entry.CallbackID = id

	data, err := entry.Marshal()
	if err != nil {
		e.reply(cmd, &v1.Response{Kind: v1.RespAck, Success: false})
		return
	}

	e.pending[id] = pendingCmd{reply: cmd.Reply}
	if err := e.node.Propose(data); err != nil {
		delete(e.pending, id)
		e.log.Debug("propose rejected", zap.Error(err))
		e.reply(cmd, &v1.Response{Kind: v1.RespAck, Success: false})
	}
}

// proposeConfChange handles ADD_NODE / REMOVE_NODE. The callback id is
// carried as the ConfChange's own ID field rather than as a second,
// separate entry context: go.etcd.io/raft/v3's ConfChange already
// reserves an ID for exactly this application-level correlation use
// (see DESIGN.md), so there is no need to thread a second encoded
// Entry payload through the proposal the way the Rust original does.
func (e *Engine) proposeConfChange(cmd *ClientCmd, changeType raftpb.ConfChangeType) {
	req := cmd.Request
	if req.PeerID == 0 {
		e.reply(cmd, &v1.Response{Kind: v1.RespAck, Success: false})
		return
	}

	var context []byte
	if changeType == raftpb.ConfChangeAddNode || changeType == raftpb.ConfChangeAddLearnerNode {
		if req.IsLearner {
			changeType = raftpb.ConfChangeAddLearnerNode
		}
		e.net.Add(req.PeerID, req.Addr)
		peerBytes, err := (&v1.Peer{ID: req.PeerID, Addr: req.Addr}).Marshal()
		if err != nil {
			e.reply(cmd, &v1.Response{Kind: v1.RespAck, Success: false})
			return
		}
		context = peerBytes
	}

	id := e.nextCallbackID()
	cc := raftpb.ConfChange{ID: id, Type: changeType, NodeID: req.PeerID, Context: context}

	e.pending[id] = pendingCmd{reply: cmd.Reply}
	if err := e.node.ProposeConfChange(cc); err != nil {
		delete(e.pending, id)
		e.log.Debug("propose conf change rejected", zap.Error(err))
		e.reply(cmd, &v1.Response{Kind: v1.RespAck, Success: false})
	}
}

// nextCallbackID returns a wrapping, never-zero monotonic id (spec.md
// §3, §4.4: "next_id() is a wrapping u64 starting at 1; 0 is never
// assigned").
func (e *Engine) nextCallbackID() uint64 {
	e.callbackSeq++
	if e.callbackSeq == 0 {
		e.callbackSeq = 1
	}
	return e.callbackSeq
}

// driveReady implements spec.md §4.4's drive_ready(): check HasReady,
// send, persist, apply, and Advance, in the exact order the spec pins
// down.
func (e *Engine) driveReady() {
	if !e.node.HasReady() {
		return
	}
	rd := e.node.Ready()

	status := e.node.Status()
	isLeader := status.Lead != 0 && status.Lead == status.ID

	if isLeader {
		e.sendMessages(rd.Messages)
	}

	if !raft.IsEmptySnap(rd.Snapshot) {
		if err := e.store.ApplySnapshot(rd.Snapshot); err != nil {
			e.log.Error("apply snapshot failed", zap.Error(err))
		}
	}
	if len(rd.Entries) > 0 {
		if err := e.store.Append(rd.Entries); err != nil {
			e.log.Error("append entries failed", zap.Error(err))
		}
	}
	if !raft.IsEmptyHardState(rd.HardState) {
		if err := e.store.SetHardState(rd.HardState); err != nil {
			e.log.Error("persist hardstate failed", zap.Error(err))
		}
	}

	if !isLeader {
		e.sendMessages(rd.Messages)
	}

	var lastApplyIndex uint64
	var confState *raftpb.ConfState
	for _, ent := range rd.CommittedEntries {
		switch ent.Type {
		case raftpb.EntryNormal:
			lastApplyIndex = ent.Index
			if len(ent.Data) == 0 {
				// No-op entry Raft emits when this replica becomes leader.
				continue
			}
			e.applyNormalEntry(ent)
		case raftpb.EntryConfChange:
			lastApplyIndex = ent.Index
			confState = e.applyConfChangeEntry(ent)
		default:
			e.log.Warn("unsupported entry type", zap.Stringer("type", ent.Type))
		}
	}

	if lastApplyIndex > 0 {
		if _, err := e.store.CreateSnapshot(lastApplyIndex, confState); err != nil {
			e.log.Warn("snapshot failed", zap.Error(err))
		} else if e.cfg.CompactCommittedLog && lastApplyIndex > 1 {
			if err := e.store.Compact(lastApplyIndex - 1); err != nil {
				e.log.Debug("compact failed", zap.Error(err))
			}
		}
	}

	e.node.Advance(rd)
}

func (e *Engine) applyNormalEntry(ent raftpb.Entry) {
	entry, err := v1.UnmarshalEntry(ent.Data)
	if err != nil {
		// A log entry every replica is expected to apply identically
		// failed to parse: state is corrupt beyond local recovery.
		panic(fmt.Errorf("corrupt committed entry at index %d: %w", ent.Index, err))
	}

	var resp *v1.Response
	switch entry.Kind {
	case v1.EntrySet:
		e.store.Set(entry.Key, entry.Value)
		resp = &v1.Response{Kind: v1.RespAck, Success: true}
	case v1.EntryDelete:
		prior, found := e.store.Delete(entry.Key)
		resp = &v1.Response{Kind: v1.RespDelete, IsFound: found, Value: prior}
	default:
		e.log.Warn("unexpected entry kind in normal entry", zap.Uint8("kind", uint8(entry.Kind)))
		return
	}
	e.resolve(entry.CallbackID, resp)
}

func (e *Engine) applyConfChangeEntry(ent raftpb.Entry) *raftpb.ConfState {
	var cc raftpb.ConfChange
	if err := cc.Unmarshal(ent.Data); err != nil {
		panic(fmt.Errorf("corrupt conf change at index %d: %w", ent.Index, err))
	}

	switch cc.Type {
	case raftpb.ConfChangeAddNode, raftpb.ConfChangeAddLearnerNode:
		if len(cc.Context) > 0 {
			if peer, err := v1.UnmarshalPeer(cc.Context); err == nil {
				if err := e.store.AddNode(*peer); err != nil && !errors.Is(err, v1.ErrDuplicatePeer) {
					e.log.Warn("add node failed", zap.Error(err))
				}
			}
		}
	case raftpb.ConfChangeRemoveNode:
		e.store.RemoveNode(cc.NodeID)
	}

	cs := e.node.ApplyConfChange(cc)
	e.resolve(cc.ID, &v1.Response{Kind: v1.RespAck, Success: true})
	return cs
}

func (e *Engine) resolve(callbackID uint64, resp *v1.Response) {
	pending, ok := e.pending[callbackID]
	if !ok {
		// Either not our proposal (another replica's), or already
		// abandoned by a leader change (spec.md §4.4 state sketch).
		return
	}
	delete(e.pending, callbackID)
	e.reply(&ClientCmd{Reply: pending.reply}, resp)
}

func (e *Engine) sendMessages(msgs []raftpb.Message) {
	for _, m := range msgs {
		e.net.Send(m.To, m)
	}
}

// reply delivers resp without blocking; a dead or absent reply sink
// silently discards it (spec.md §5).
func (e *Engine) reply(cmd *ClientCmd, resp *v1.Response) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- resp:
	default:
	}
}
