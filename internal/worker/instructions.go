package worker

import (
	"fmt"
	"strings"
)

// classifyInstruction asks the agent to inventory the conversation list.
func classifyInstruction() string {
	return strings.TrimSpace(`
Open the chat client's conversation list and inventory every visible thread.
Do not open any thread. For each one note its name, whether it shows an
unread indicator, and whether it is a group conversation.

End your final message with a JSON object of this exact shape:
{"threads": [{"thread_id": "<stable id or name>", "name": "<display name>", "unread": true, "is_group": true}]}
`)
}

// readInstruction asks the agent to open one group and report new messages.
func readInstruction(params map[string]any) (string, error) {
	name, err := stringParam(params, "thread_name")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(strings.TrimSpace(`
Open the group conversation named %q in the chat client. Read all unread
messages. Take a screenshot of each screen of new messages, including the
sender avatars. Identify senders posting advertisements, scams, or other
promotional spam.

End your final message with a JSON object of this exact shape:
{"suspects": [{"sender_id": "<stable id or name>", "sender_name": "<display name>", "evidence_text": "<the offending message>"}]}
Report an empty suspects list if no message is promotional.
`), name), nil
}

// removalTarget is one member to remove, identified by the suspect triple
// the controller sends.
type removalTarget struct {
	SenderID   string
	SenderName string
	ThreadID   string
}

// removeInstruction asks the agent to remove the approved members.
func removeInstruction(params map[string]any) (string, error) {
	targets, err := suspectsParam(params)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "", fmt.Errorf("remove step has no suspects")
	}

	lines := make([]string, 0, len(targets))
	for _, target := range targets {
		lines = append(lines, fmt.Sprintf("- %s (id %s)", target.SenderName, target.SenderID))
	}
	return fmt.Sprintf(strings.TrimSpace(`
Open the group conversation with id %q in the chat client and open its
member management screen. Remove exactly these members, and no one else:
%s
Take a screenshot after each removal. In your final message report which
members were removed and which could not be found.
`), targets[0].ThreadID, strings.Join(lines, "\n")), nil
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required param %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("param %q must be a non-empty string", key)
	}
	return s, nil
}

// suspectsParam decodes the remove step's suspect list. Each entry needs at
// least a sender id and a thread id; sender names alone are ambiguous.
func suspectsParam(params map[string]any) ([]removalTarget, error) {
	v, ok := params["suspects"]
	if !ok {
		return nil, fmt.Errorf("missing required param %q", "suspects")
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("param %q must be a list of objects", "suspects")
	}
	out := make([]removalTarget, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("param %q must be a list of objects", "suspects")
		}
		target := removalTarget{}
		target.SenderID, _ = m["sender_id"].(string)
		target.SenderName, _ = m["sender_name"].(string)
		target.ThreadID, _ = m["thread_id"].(string)
		if target.SenderID == "" || target.ThreadID == "" {
			return nil, fmt.Errorf("suspect entries need sender_id and thread_id")
		}
		out = append(out, target)
	}
	return out, nil
}
