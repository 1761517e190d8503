package testutil

// FixedIDGenerator names every environment the same.
//
// Unlike engine.FixedGenerator, which hands out a list of ids in order and
// panics when it runs out, this generator never runs out. Use it where a
// test builds an unknown number of environments, as a pool does, and the
// ids only need to be stable for golden comparison.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id. An empty id
// becomes "test-env".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-env"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id. It implements engine.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
