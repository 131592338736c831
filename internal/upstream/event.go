package upstream

// Event is one element of the normalized stream produced by ChatStream:
// zero or more deltas in generation order, then exactly one done.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

const (
	EventDelta = "delta"
	EventDone  = "done"
)
