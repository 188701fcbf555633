package llm

import (
	"fmt"
	"time"
)

// Record is the flat, storable shape of a Turn.
type Record struct {
	Role         Role              `json:"role"`
	Content      string            `json:"content,omitempty"`
	ToolCalls    []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID   string            `json:"tool_call_id,omitempty"`
	Usage        *TokenUsage       `json:"usage,omitempty"`
	FinishReason FinishReason      `json:"finish_reason,omitempty"`
	At           time.Time         `json:"at"`
}

// ToRecord flattens t. at is stored verbatim.
func ToRecord(t Turn, at time.Time) Record {
	r := Record{Role: t.Role(), Content: t.Text(), At: at}
	switch v := t.(type) {
	case AssistantTurn:
		r.ToolCalls = v.ToolCalls
		r.Usage = v.Usage
		r.FinishReason = v.FinishReason
	case *AssistantTurn:
		r.ToolCalls = v.ToolCalls
		r.Usage = v.Usage
		r.FinishReason = v.FinishReason
	case ToolResultTurn:
		r.ToolCallID = v.CallID
	case *ToolResultTurn:
		r.ToolCallID = v.CallID
	}
	return r
}

// Turn rebuilds the typed turn. Unknown roles and tool results without a
// call id are rejected.
func (r Record) Turn() (Turn, error) {
	switch r.Role {
	case RoleSystem:
		return SystemTurn{Content: r.Content}, nil
	case RoleUser:
		return UserTurn{Content: r.Content}, nil
	case RoleAssistant:
		return AssistantTurn{
			Content:      r.Content,
			ToolCalls:    r.ToolCalls,
			Usage:        r.Usage,
			FinishReason: r.FinishReason,
		}, nil
	case RoleTool:
		if r.ToolCallID == "" {
			return nil, fmt.Errorf("tool turn without tool_call_id")
		}
		return ToolResultTurn{CallID: r.ToolCallID, Content: r.Content}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", r.Role)
	}
}

// ToRecords flattens a conversation, stamping every record with at.
func ToRecords(c Conversation, at time.Time) []Record {
	out := make([]Record, 0, len(c))
	for _, t := range c {
		out = append(out, ToRecord(t, at))
	}
	return out
}

// FromRecords rebuilds a conversation, failing on the first invalid record.
func FromRecords(records []Record) (Conversation, error) {
	out := make(Conversation, 0, len(records))
	for i, r := range records {
		t, err := r.Turn()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
