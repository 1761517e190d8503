package ir

// Version constants for the descriptor schema and engine.
const (
	// SchemaVersion is the construct descriptor schema version.
	SchemaVersion = "1"

	// EngineVersion is the prodsys engine version.
	EngineVersion = "0.1.0"
)
