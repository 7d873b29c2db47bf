// Package config holds the small set of defaults a replica needs at
// startup: Raft tick timing, default bind addresses, and the snapshot
// data-file path. It follows the teacher's configFile()-style env-var
// override pattern, generalized from certificate/policy file lookup to
// the replicated data file (spec.md §6).
package config

import "os"

// Defaults per spec.md §4.4 (tick timing) and §6 (CLI surface).
const (
	DefaultTickInterval = 100 // milliseconds
	DefaultElectionTick  = 10
	DefaultHeartbeatTick = 1

	DefaultPublicAddr = "0.0.0.0:9000"
	DefaultPeerAddr   = "0.0.0.0:9001"
	DefaultDataFile   = "/tmp/data"
)

// dataDirEnvVar lets an operator relocate the snapshot file without
// touching the CLI invocation, mirroring the teacher's CONFIG_DIR
// override in internal/config/files.go.
const dataDirEnvVar = "KVRAFT_DATA_DIR"

// ResolveDataFile returns flagValue if set, else an override from
// KVRAFT_DATA_DIR joined with "data", else spec.md §6's literal
// default path.
func ResolveDataFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if dir := os.Getenv(dataDirEnvVar); dir != "" {
		return dir + "/data"
	}
	return DefaultDataFile
}
