package memory

import (
	"context"
	"strings"
	"time"
)

const contextPrefix = "context:"

// ContextKey returns the memory key holding the shared context id.
func ContextKey(id string) string {
	return contextPrefix + id
}

// StoreContext stores data as one value under the context namespace.
func (m *AgentMemory) StoreContext(ctx context.Context, id string, data map[string]any, ttl time.Duration) error {
	return m.Set(ctx, ContextKey(id), data, ttl)
}

// RetrieveContext returns the whole context stored under id.
func (m *AgentMemory) RetrieveContext(ctx context.Context, id string) (map[string]any, error) {
	var data map[string]any
	if err := m.Decode(ctx, ContextKey(id), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *AgentMemory) DeleteContext(ctx context.Context, id string) error {
	return m.Delete(ctx, ContextKey(id))
}

// ListContexts returns the ids of every live context.
func (m *AgentMemory) ListContexts(ctx context.Context) ([]string, error) {
	keys, err := m.Keys(ctx, contextPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, contextPrefix))
	}
	return ids, nil
}
