package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord stores the committed result of an operation so that a
// retry with the same key replays it instead of mutating again.
type IdempotencyRecord struct {
	Key         string    `json:"key"` // Format: "operation:caller_id:client_key"
	Operation   string    `json:"operation"`
	Fingerprint string    `json:"fingerprint"` // hash of the request that produced Result
	Result      []byte    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a client key to an operation and caller.
func BuildIdempotencyKey(operation string, callerID uuid.UUID, clientKey string) string {
	return operation + ":" + callerID.String() + ":" + clientKey
}
