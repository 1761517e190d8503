package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator names environments. The name is stamped on every trace event
// and journal run so output from several environments can be separated.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-ordered UUIDv7 strings. It holds no state.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator replays a fixed list of names, for tests and golden traces.
type FixedGenerator struct {
	mu   sync.Mutex
	next int
	ids  []string
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate panics once the list is used up: a test built more environments
// than it named.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: only %d id(s) configured", len(g.ids)))
	}
	g.next++
	return g.ids[g.next-1]
}
