package idhash

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// TickSeedModulus folds tick seeds into the 32-bit range.
const TickSeedModulus = 1 << 32

// TickSeed derives the per-tick planner seed from the run seed.
// Formula: (runSeed * 1_000_003 + tickIndex) mod 2^32.
func TickSeed(runSeed uint64, tickIndex int64) uint64 {
	return (runSeed*1_000_003 + uint64(tickIndex)) % TickSeedModulus
}

// DeriveSeed derives an independent 64-bit seed from a parent seed and a
// position label. Uses SHA256 so derived streams do not correlate across
// positions the way small multiplicative mixes do.
func DeriveSeed(parent uint64, label string, position int) uint64 {
	data := fmt.Sprintf("%d|%s|%d", parent, label, position)
	hash := sha256.Sum256([]byte(data))
	return binary.BigEndian.Uint64(hash[:8])
}

// CycleSeed derives the deterministic cycle-prioritization seed for a
// clearing pass from (run id, tick index, equivalent).
func CycleSeed(runID string, tick int64, equivalent string) uint64 {
	data := fmt.Sprintf("%s|%d|%s", runID, tick, equivalent)
	hash := sha256.Sum256([]byte(data))
	return binary.BigEndian.Uint64(hash[:8])
}
