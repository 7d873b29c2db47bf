// Package node wires up all of a replica's components into one running
// process: storage, the outbound network, the Raft-driven engine, and
// the two TCP listeners. Its Config/ordered-setup/ordered-shutdown shape
// is carried over directly from the teacher's internal/agent/agent.go,
// repurposed from log+grpcServer+membership+replicator to
// storage+network+engine+listeners.
package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/mrshabel/kvraft/internal/config"
	"github.com/mrshabel/kvraft/internal/engine"
	"github.com/mrshabel/kvraft/internal/listener"
	"github.com/mrshabel/kvraft/internal/network"
	"github.com/mrshabel/kvraft/internal/storage"
	"go.uber.org/zap"
)

// Config contains everything needed to stand up one replica.
type Config struct {
	ID         uint64
	PublicAddr string
	PeerAddr   string
	DataFile   string

	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PublicAddr == "" {
		c.PublicAddr = config.DefaultPublicAddr
	}
	if c.PeerAddr == "" {
		c.PeerAddr = config.DefaultPeerAddr
	}
	if c.DataFile == "" {
		c.DataFile = config.ResolveDataFile("")
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Duration(config.DefaultTickInterval) * time.Millisecond
	}
	return c
}

// Node owns every component of a running replica.
type Node struct {
	Config Config

	log     *zap.Logger
	store   *storage.Store
	network *network.Network
	engine  *engine.Engine
	public  *listener.Public
	peer    *listener.Peer

	ticker    *time.Ticker
	tickerDone chan struct{}

	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
}

// New builds and starts a replica per config. Calling New leaves the
// replica fully running: Raft ticking, both listeners accepting
// connections.
func New(cfg Config) (*Node, error) {
	n := &Node{
		Config:    cfg.withDefaults(),
		shutdowns: make(chan struct{}),
	}

	setup := []func() error{
		n.setupLogger,
		n.setupStorage,
		n.setupNetwork,
		n.setupEngine,
		n.setupListeners,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) setupLogger() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	n.log = logger.Named(fmt.Sprintf("node.%d", n.Config.ID))
	return nil
}

func (n *Node) setupStorage() error {
	store, err := storage.Open(n.Config.DataFile)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	n.store = store
	return nil
}

func (n *Node) setupNetwork() error {
	n.network = network.New(n.log)
	return nil
}

func (n *Node) setupEngine() error {
	eng, err := engine.New(engine.DefaultConfig(n.Config.ID), n.store, n.network, n.log)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	n.engine = eng
	go eng.Run()

	n.tickerDone = make(chan struct{})
	n.ticker = time.NewTicker(n.Config.TickInterval)
	go func() {
		for {
			select {
			case <-n.ticker.C:
				n.engine.Tick()
			case <-n.tickerDone:
				return
			}
		}
	}()
	return nil
}

func (n *Node) setupListeners() error {
	public, err := listener.NewPublic(n.Config.PublicAddr, n.engine, n.log)
	if err != nil {
		return fmt.Errorf("start public listener: %w", err)
	}
	n.public = public
	go func() {
		if err := public.Serve(); err != nil {
			n.log.Error("public listener stopped", zap.Error(err))
		}
	}()

	peer, err := listener.NewPeer(n.Config.PeerAddr, n.engine, n.log)
	if err != nil {
		return fmt.Errorf("start peer listener: %w", err)
	}
	n.peer = peer
	go func() {
		if err := peer.Serve(); err != nil {
			n.log.Error("peer listener stopped", zap.Error(err))
		}
	}()

	return nil
}

// RegisterPeer pre-registers a known replica address with the outbound
// network component, mirroring the original system's startup-time PEER
// list (src/bin/server.rs): it lets this replica start sending Raft
// messages to a peer before any ADD_NODE conf change has been
// committed, which matters for the node that is *not* the first to
// bootstrap a cluster.
func (n *Node) RegisterPeer(id uint64, addr string) {
	n.network.Add(id, addr)
}

// PublicAddr returns the bound address of the client-facing listener.
func (n *Node) PublicAddr() string { return n.public.Addr().String() }

// PeerAddr returns the bound address of the replica-facing listener.
func (n *Node) PeerAddr() string { return n.peer.Addr().String() }

// Shutdown tears the replica down once, in the reverse order its
// components were built, guarded against concurrent/repeated calls the
// way the teacher's Agent.Shutdown is.
func (n *Node) Shutdown() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()
	if n.shutdown {
		return nil
	}
	n.shutdown = true
	close(n.shutdowns)

	shutdown := []func() error{
		func() error { return n.public.Close() },
		func() error { return n.peer.Close() },
		func() error {
			close(n.tickerDone)
			n.ticker.Stop()
			return nil
		},
		func() error { n.engine.Stop(); return nil },
		func() error { n.network.Close(); return nil },
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
