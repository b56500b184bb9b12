package types

// Event represents a typed record emitted after a completed state
// transition. Events are purely informational for off-ledger observers
// and are never read back by the core.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
