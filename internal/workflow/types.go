// Package workflow defines the entities of a removal pass and the pure
// parsing/filtering helpers that turn agent text output into those entities.
package workflow

// Thread is one conversation in the chat client's session list, as reported
// by the classification step. Identity is ID; a Thread is never mutated once
// parsed.
type Thread struct {
	ID      string `json:"thread_id"`
	Name    string `json:"name"`
	Unread  bool   `json:"unread"`
	IsGroup bool   `json:"is_group"`
}

// Suspect is one flagged member of a group thread. AvatarRef points at the
// last screenshot captured while reading that thread, or is empty if the
// read produced none.
type Suspect struct {
	SenderID     string `json:"sender_id"`
	SenderName   string `json:"sender_name"`
	AvatarRef    string `json:"avatar_path"`
	EvidenceText string `json:"evidence_text"`
	ThreadID     string `json:"thread_id"`
}

// RemovalPlan is the per-group removal proposal. Confirmed is set only after
// explicit operator approval; Note holds the worker's outcome text after the
// removal step executed.
type RemovalPlan struct {
	Suspects  []Suspect `json:"suspects"`
	Confirmed bool      `json:"confirmed"`
	Note      string    `json:"note,omitempty"`
}

// NewRemovalPlan wraps a copy of the suspect list in an unconfirmed plan.
func NewRemovalPlan(suspects []Suspect, note string) *RemovalPlan {
	copied := make([]Suspect, len(suspects))
	copy(copied, suspects)
	return &RemovalPlan{
		Suspects:  copied,
		Confirmed: false,
		Note:      note,
	}
}
