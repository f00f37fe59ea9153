package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered metadata adapter.
type AdapterInfo struct {
	Type        string // "mssql", "postgres"
	DisplayName string // "Microsoft SQL Server", "PostgreSQL"
}

// AdapterRegistration contains info + factory for creating a Source.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, params ConnectParams, logger *zap.Logger) (Source, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// Open creates a Source for the given adapter type.
func Open(ctx context.Context, adapterType string, params ConnectParams, logger *zap.Logger) (Source, error) {
	registryMu.RLock()
	reg, ok := registry[adapterType]
	registryMu.RUnlock()

	if !ok {
		var known []string
		for _, info := range RegisteredAdapters() {
			known = append(known, info.Type)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("no metadata adapter registered for type %q (registered: %s)",
			adapterType, strings.Join(known, ", "))
	}
	return reg.Factory(ctx, params, logger)
}
