// Package agents reads agent metadata (name, instructions) used to build prompts.
// Agents are owned elsewhere; this package never writes them.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

// Agent is the read-only view of an agent.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// Reader looks up agents by id. Unknown ids return ErrNotFound.
type Reader interface {
	Get(ctx context.Context, id string) (*Agent, error)
}

// MemoryReader serves agents from a map.
type MemoryReader struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewMemoryReader returns a reader preloaded with agents.
func NewMemoryReader(agents ...Agent) *MemoryReader {
	r := &MemoryReader{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

// Put adds or replaces an agent.
func (r *MemoryReader) Put(a Agent) {
	r.mu.Lock()
	r.agents[a.ID] = a
	r.mu.Unlock()
}

func (r *MemoryReader) Get(_ context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, mwerrors.ErrNotFound)
	}
	return &a, nil
}

// PostgresReader reads the agents table.
type PostgresReader struct {
	pool *pgxpool.Pool
}

// NewPostgresReader creates a reader backed by pool.
func NewPostgresReader(pool *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{pool: pool}
}

func (r *PostgresReader) Get(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, instructions
		FROM agents
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Instructions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, mwerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}
