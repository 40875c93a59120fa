package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// classificationPayload is the JSON shape the agent returns for the classify
// step: {"threads": [{"thread_id": ..., "name": ..., "is_group": ..., "unread": ...}]}
type classificationPayload struct {
	Threads []Thread `json:"threads"`
}

// suspectsPayload is the JSON shape the agent returns for a group read:
// {"suspects": [{"sender_id": ..., "sender_name": ..., "evidence_text": ...}]}
type suspectsPayload struct {
	Suspects []suspectEntry `json:"suspects"`
}

type suspectEntry struct {
	SenderID     string `json:"sender_id"`
	SenderName   string `json:"sender_name"`
	EvidenceText string `json:"evidence_text"`
}

// lastJSONObject scans text for top-level JSON objects and returns the last
// one. The agent ends its reply with a JSON payload but is free to put prose
// around it, so the parsers cannot assume the whole text is JSON.
func lastJSONObject(text string) (json.RawMessage, bool) {
	var last json.RawMessage
	found := false
	for i := 0; i < len(text); {
		if text[i] != '{' {
			i++
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			i++
			continue
		}
		last = raw
		found = true
		i += int(dec.InputOffset())
	}
	return last, found
}

// ParseClassification parses the classify step's text output into threads.
func ParseClassification(textOutput string) ([]Thread, error) {
	raw, ok := lastJSONObject(textOutput)
	if !ok {
		return nil, fmt.Errorf("failed to parse classification output: no JSON object found")
	}
	var payload classificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse classification output: %w", err)
	}
	return payload.Threads, nil
}

// FilterUnreadGroups returns the threads that are both group chats and
// unread, preserving classification order.
func FilterUnreadGroups(threads []Thread) []Thread {
	var groups []Thread
	for _, t := range threads {
		if t.IsGroup && t.Unread {
			groups = append(groups, t)
		}
	}
	return groups
}

// ExtractSuspects parses the read step's text output for a thread into
// suspects, binding each to the thread and to the last captured screenshot
// (empty reference when the read produced none).
func ExtractSuspects(thread Thread, textOutput string, screenshots []string) ([]Suspect, error) {
	raw, ok := lastJSONObject(textOutput)
	if !ok {
		return nil, fmt.Errorf("failed to parse suspects for thread %s: no JSON object found", thread.ID)
	}
	var payload suspectsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse suspects for thread %s: %w", thread.ID, err)
	}

	avatarRef := ""
	if len(screenshots) > 0 {
		avatarRef = screenshots[len(screenshots)-1]
	}

	suspects := make([]Suspect, 0, len(payload.Suspects))
	for _, entry := range payload.Suspects {
		suspects = append(suspects, Suspect{
			SenderID:     entry.SenderID,
			SenderName:   entry.SenderName,
			AvatarRef:    avatarRef,
			EvidenceText: entry.EvidenceText,
			ThreadID:     thread.ID,
		})
	}
	return suspects, nil
}
