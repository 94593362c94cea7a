package ir

// Version constants for IR schema and engine.
const (
	// IRVersion is the compiled rule-set schema version.
	IRVersion = "1"

	// EngineVersion is the bus pass engine version.
	EngineVersion = "0.1.0"
)
