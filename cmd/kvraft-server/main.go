// Command kvraft-server runs a single replica of the distributed
// key-value store. It wires internal/node.Node up to a cobra root
// command the way cuemby-warren/cmd/warren wires its subcommands: flags
// are read from cmd.Flags() inside RunE, persistent failure is reported
// through a non-nil error, and the process blocks on an interrupt
// signal before tearing the replica down.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mrshabel/kvraft/internal/node"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kvraft-server ID [PEER...]",
	Short: "Run a replica of the Raft-backed key-value store",
	Long: `kvraft-server starts one replica identified by ID.

PEER arguments are optional "id-addr" pairs (e.g. 2-127.0.0.1:9011)
naming replicas this process should be able to reach immediately; they
do not themselves add a replica to the Raft cluster, which instead
happens through the "add_node" client command once every process named
here is running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runServer,
}

func init() {
	rootCmd.Flags().StringP("peer-on", "p", "0.0.0.0:9001", "address this replica listens on for Raft traffic")
	rootCmd.Flags().String("public-on", "0.0.0.0:9000", "address this replica listens on for client traffic")
	rootCmd.Flags().String("data-file", "", "path to the replica's snapshot file (default: /tmp/data, override with KVRAFT_DATA_DIR)")
}

func runServer(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ID %q: %w", args[0], err)
	}

	peerOn, _ := cmd.Flags().GetString("peer-on")
	publicOn, _ := cmd.Flags().GetString("public-on")
	dataFile, _ := cmd.Flags().GetString("data-file")

	peers, err := parsePeers(args[1:])
	if err != nil {
		return err
	}

	n, err := node.New(node.Config{
		ID:         id,
		PublicAddr: publicOn,
		PeerAddr:   peerOn,
		DataFile:   dataFile,
	})
	if err != nil {
		return fmt.Errorf("start replica %d: %w", id, err)
	}
	for peerID, addr := range peers {
		n.RegisterPeer(peerID, addr)
	}

	fmt.Printf("replica %d listening: clients on %s, peers on %s\n", id, n.PublicAddr(), n.PeerAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	return n.Shutdown()
}

// parsePeers reads "id-addr" pairs the way the original system's
// src/bin/server.rs parses its PEER arguments.
func parsePeers(args []string) (map[uint64]string, error) {
	peers := make(map[uint64]string, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer %q: want id-addr", arg)
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id in %q: %w", arg, err)
		}
		peers[id] = parts[1]
	}
	return peers, nil
}
