package testutil

import "github.com/google/uuid"

// NewOperationID returns a unique ledger operation id for use in tests.
func NewOperationID() string {
	return "op-" + uuid.NewString()
}
