package store

const (
	EventDocUpdated     = "doc.updated"
	EventCursorUpserted = "cursor.upserted"
	EventCursorDeleted  = "cursor.deleted"
)

// ChangeEvent is the change-feed message fanned out to every subscriber of a
// pad, including the writer. Events are hints, not an ordered stream: they
// always carry the full row state so subscribers can re-derive correctness
// without diffing.
type ChangeEvent struct {
	Kind      string  `json:"kind"`
	Pad       string  `json:"pad"`
	SessionID string  `json:"session_id,omitempty"`
	Doc       *Doc    `json:"doc,omitempty"`
	Cursor    *Cursor `json:"cursor,omitempty"`
}
