package testutil

import (
	"context"

	"github.com/flexprice/invoicing/internal/types"
)

// SetupContext returns a background context carrying a request id
func SetupContext() context.Context {
	return types.SetRequestID(context.Background(), types.GenerateUUID())
}
