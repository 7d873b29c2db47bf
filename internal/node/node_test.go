package node

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mrshabel/kvraft/internal/client"
	"github.com/stretchr/testify/require"
)

func TestNode(t *testing.T) {
	table := map[string]func(t *testing.T, dir string){
		"single node serves client requests": testSingleNodeServesClients,
	}
	for scenario, fn := range table {
		t.Run(scenario, func(t *testing.T) {
			fn(t, t.TempDir())
		})
	}
}

// testSingleNodeServesClients exercises S1 from spec.md §8 end-to-end
// over the real TCP listener and client.
func testSingleNodeServesClients(t *testing.T, dir string) {
	n, err := New(Config{
		ID:         1,
		PublicAddr: "127.0.0.1:0",
		PeerAddr:   "127.0.0.1:0",
		DataFile:   filepath.Join(dir, "data"),
	})
	require.NoError(t, err)
	defer n.Shutdown()

	c, err := client.Connect(n.PublicAddr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())

	require.Eventually(t, func() bool {
		ok, err := c.Set("k", "v")
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)

	value, found, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)

	value, found, err = c.Delete("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)

	_, found, err = c.Get("k")
	require.NoError(t, err)
	require.False(t, found)
}
