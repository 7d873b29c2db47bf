package storage

import (
	"os"
	"path/filepath"
	"testing"

	v1 "github.com/mrshabel/kvraft/api/v1"
	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3/raftpb"
)

func TestStore(t *testing.T) {
	table := map[string]func(t *testing.T, dir string){
		"get set delete":            testGetSetDelete,
		"scan returns all keys":     testScan,
		"add node rejects id zero":  testAddNodeRejectsZero,
		"add node rejects duplicate": testAddNodeRejectsDuplicate,
		"remove node is idempotent": testRemoveNodeIdempotent,
		"snapshot round trip":       testSnapshotRoundTrip,
		"open missing file starts empty": testOpenMissingFile,
	}
	for scenario, fn := range table {
		t.Run(scenario, func(t *testing.T) {
			dir := t.TempDir()
			fn(t, dir)
		})
	}
}

func testGetSetDelete(t *testing.T, dir string) {
	s, err := Open(filepath.Join(dir, "data"))
	require.NoError(t, err)

	_, ok := s.Get("k")
	require.False(t, ok)

	s.Set("k", "v")
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	prior, ok := s.Delete("k")
	require.True(t, ok)
	require.Equal(t, "v", prior)

	_, ok = s.Get("k")
	require.False(t, ok)
}

func testScan(t *testing.T, dir string) {
	s, err := Open(filepath.Join(dir, "data"))
	require.NoError(t, err)

	s.Set("k1", "v1")
	s.Set("k2", "v2")
	s.Set("k3", "v3")

	require.ElementsMatch(t, []string{"k1", "k2", "k3"}, s.Scan())
}

func testAddNodeRejectsZero(t *testing.T, dir string) {
	s, err := Open(filepath.Join(dir, "data"))
	require.NoError(t, err)

	err = s.AddNode(v1.Peer{ID: 0, Addr: "127.0.0.1:9001"})
	require.ErrorIs(t, err, v1.ErrInvalidPeerID)
}

func testAddNodeRejectsDuplicate(t *testing.T, dir string) {
	s, err := Open(filepath.Join(dir, "data"))
	require.NoError(t, err)

	peer := v1.Peer{ID: 2, Addr: "127.0.0.1:9001"}
	require.NoError(t, s.AddNode(peer))
	require.ErrorIs(t, s.AddNode(peer), v1.ErrDuplicatePeer)
	require.Len(t, s.Peers(), 1)
}

func testRemoveNodeIdempotent(t *testing.T, dir string) {
	s, err := Open(filepath.Join(dir, "data"))
	require.NoError(t, err)

	require.NoError(t, s.AddNode(v1.Peer{ID: 2, Addr: "a"}))
	s.RemoveNode(2)
	require.Empty(t, s.Peers())

	// removing again is a no-op, not an error
	s.RemoveNode(2)
	require.Empty(t, s.Peers())
}

func testSnapshotRoundTrip(t *testing.T, dir string) {
	path := filepath.Join(dir, "data")
	s, err := Open(path)
	require.NoError(t, err)

	s.Set("x", "y")
	require.NoError(t, s.AddNode(v1.Peer{ID: 1, Addr: "127.0.0.1:9001"}))
	// A snapshot index must name an entry already in the Raft log.
	require.NoError(t, s.Append([]raftpb.Entry{{Index: 1, Term: 1}}))

	_, err = s.CreateSnapshot(1, &raftpb.ConfState{Voters: []uint64{1}})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)

	v, ok := reopened.Get("x")
	require.True(t, ok)
	require.Equal(t, "y", v)
	require.Equal(t, []v1.Peer{{ID: 1, Addr: "127.0.0.1:9001"}}, reopened.Peers())
}

func testOpenMissingFile(t *testing.T, dir string) {
	s, err := Open(filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, s.Scan())
	require.Empty(t, s.Peers())
}
