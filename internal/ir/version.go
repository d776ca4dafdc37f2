package ir

// Version constants for the wire protocol and engine.
const (
	// WireVersion is the version of the JSON/binary wire protocol described
	// in the relay and syncclient packages.
	WireVersion = "1"

	// EngineVersion is the thoughtspace-sync engine version.
	EngineVersion = "0.1.0"
)
