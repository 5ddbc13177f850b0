package blob

import (
	memorystore "herbtrace/internal/infra/blob/memory"
)

// NewMemory returns an in-memory archive suitable for tests.
func NewMemory() Store { return memorystore.New() }
