package engine

import (
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/mrshabel/kvraft/api/v1"
	"github.com/mrshabel/kvraft/internal/network"
	"github.com/mrshabel/kvraft/internal/storage"
	"github.com/stretchr/testify/require"
)

// newTestEngine boots a single-member engine against a temp-dir-backed
// store, and runs its event loop for the duration of the test.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "data"))
	require.NoError(t, err)

	net := network.New(nil)
	t.Cleanup(net.Close)

	cfg := DefaultConfig(1)
	e, err := New(cfg, store, net, nil)
	require.NoError(t, err)

	go e.Run()
	t.Cleanup(e.Stop)

	// Raft only campaigns on ticks, so drive them here the way the node
	// package's ticker does, just faster.
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Tick()
			case <-done:
				return
			}
		}
	}()

	return e
}

func waitForLeader(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		reply := make(chan *v1.Response, 1)
		e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqInfo}, Reply: reply})
		select {
		case resp := <-reply:
			if resp.LeaderID == resp.ID {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for single node to elect itself leader")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngine(t *testing.T) {
	table := map[string]func(t *testing.T){
		"single node set get delete":        testSingleNodeLifecycle,
		"ping replies immediately":          testPing,
		"scan returns all keys":             testScanAllKeys,
		"get unknown key":                   testGetUnknownKey,
		"add node rejects zero id":          testAddNodeRejectsZeroID,
		"info lists own id as peer":         testInfoListsOwnID,
		"unknown request kind gets a reply": testUnknownKindReplies,
	}
	for scenario, fn := range table {
		t.Run(scenario, fn)
	}
}

// testSingleNodeLifecycle exercises S1 from spec.md §8.
func testSingleNodeLifecycle(t *testing.T) {
	e := newTestEngine(t)
	waitForLeader(t, e)

	setReply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqSet, Key: "k", Value: "v"}, Reply: setReply})
	select {
	case resp := <-setReply:
		require.True(t, resp.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for set to commit")
	}

	getReply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqGet, Key: "k"}, Reply: getReply})
	resp := <-getReply
	require.True(t, resp.IsFound)
	require.Equal(t, "v", resp.Value)

	delReply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqDelete, Key: "k"}, Reply: delReply})
	select {
	case resp := <-delReply:
		require.True(t, resp.IsFound)
		require.Equal(t, "v", resp.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete to commit")
	}

	getReply2 := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqGet, Key: "k"}, Reply: getReply2})
	resp = <-getReply2
	require.False(t, resp.IsFound)
}

func testPing(t *testing.T) {
	e := newTestEngine(t)
	reply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqPing}, Reply: reply})
	resp := <-reply
	require.Equal(t, v1.RespPong, resp.Kind)
}

// testScanAllKeys exercises S6 from spec.md §8.
func testScanAllKeys(t *testing.T) {
	e := newTestEngine(t)
	waitForLeader(t, e)

	for _, kv := range [][2]string{{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}} {
		reply := make(chan *v1.Response, 1)
		e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqSet, Key: kv[0], Value: kv[1]}, Reply: reply})
		<-reply
	}

	reply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqScan}, Reply: reply})
	resp := <-reply
	require.ElementsMatch(t, []string{"k1", "k2", "k3"}, resp.Keys)
}

func testGetUnknownKey(t *testing.T) {
	e := newTestEngine(t)
	reply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqGet, Key: "missing"}, Reply: reply})
	resp := <-reply
	require.False(t, resp.IsFound)
}

func testAddNodeRejectsZeroID(t *testing.T) {
	e := newTestEngine(t)
	reply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqAddNode, PeerID: 0}, Reply: reply})
	resp := <-reply
	require.False(t, resp.Success)
}

// testInfoListsOwnID exercises S4 from spec.md §8: a lone, freshly
// bootstrapped node must list its own id in info.peers even though it
// never went through an ADD_NODE call that populated the Storage
// address-book directory.
func testInfoListsOwnID(t *testing.T) {
	e := newTestEngine(t)
	waitForLeader(t, e)

	reply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{Kind: v1.ReqInfo}, Reply: reply})
	resp := <-reply
	require.Contains(t, resp.Peers, e.cfg.ID)
}

// testUnknownKindReplies guards against the dispatch default case
// dropping the reply: a zero-value Request (as a zero-length frame
// decodes to per spec.md §4.1) must still get an answer so a
// synchronous listener blocked on the reply channel can't wedge.
func testUnknownKindReplies(t *testing.T) {
	e := newTestEngine(t)
	reply := make(chan *v1.Response, 1)
	e.Submit(&ClientCmd{Request: &v1.Request{}, Reply: reply})
	select {
	case resp := <-reply:
		require.False(t, resp.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("unknown request kind never received a reply")
	}
}
