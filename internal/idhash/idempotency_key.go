package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeIdempotencyKey computes a deterministic idempotency key for one
// payment intent. Formula:
// base58(SHA256(run_id|tick|sender|receiver|equivalent|amount|sequence)[:16]).
// The amount is formatted with 2 decimal places so the key is stable across
// float formatting differences.
func ComputeIdempotencyKey(
	runID string,
	tick int64,
	sender string,
	receiver string,
	equivalent string,
	amount float64,
	sequence int,
) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%s|%.2f|%d",
		runID,
		tick,
		sender,
		receiver,
		equivalent,
		amount,
		sequence,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:16])
}
