package llm

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Label is the human-readable role name used when rendering transcripts.
func (r Role) Label() string {
	switch r {
	case RoleSystem:
		return "System"
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}

// Turn is one message in a conversation. The concrete types are SystemTurn,
// UserTurn, AssistantTurn and ToolResultTurn; no other package can add one.
type Turn interface {
	Role() Role
	// Text returns the turn's text content, which may be empty for an
	// assistant turn that only requests tool calls.
	Text() string
	isTurn()
}

// SystemTurn carries instructions for the model.
type SystemTurn struct {
	Content string
}

func (SystemTurn) Role() Role     { return RoleSystem }
func (t SystemTurn) Text() string { return t.Content }
func (SystemTurn) isTurn()        {}

// UserTurn is text supplied by the user, or context framed as coming from them.
type UserTurn struct {
	Content string
}

func (UserTurn) Role() Role     { return RoleUser }
func (t UserTurn) Text() string { return t.Content }
func (UserTurn) isTurn()        {}

// AssistantTurn is a model reply. It carries either text, tool call requests,
// or both. Usage and FinishReason are set only on turns returned by a Provider.
type AssistantTurn struct {
	Content      string
	ToolCalls    []ToolCallRequest
	Usage        *TokenUsage
	FinishReason FinishReason
}

func (AssistantTurn) Role() Role     { return RoleAssistant }
func (t AssistantTurn) Text() string { return t.Content }
func (AssistantTurn) isTurn()        {}

// ToolResultTurn answers the ToolCallRequest whose ID equals CallID.
type ToolResultTurn struct {
	CallID  string
	Content string
}

func (ToolResultTurn) Role() Role     { return RoleTool }
func (t ToolResultTurn) Text() string { return t.Content }
func (ToolResultTurn) isTurn()        {}

// Conversation is an ordered transcript. Order is significant.
type Conversation []Turn

// Clone returns a copy whose backing array is not shared with c.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// ToolCallRequest is a single tool invocation requested by the model.
// Arguments is the raw JSON text produced by the model and may not parse.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TokenUsage echoes the server-reported accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into t.
func (t *TokenUsage) Add(u *TokenUsage) {
	if u == nil {
		return
	}
	t.PromptTokens += u.PromptTokens
	t.CompletionTokens += u.CompletionTokens
	t.TotalTokens += u.TotalTokens
}

// FinishReason classifies why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishOther     FinishReason = "other"
)

// ParseFinishReason maps an upstream finish_reason string onto the four
// classes the loop distinguishes.
func ParseFinishReason(s string) FinishReason {
	switch s {
	case "stop", "end_turn":
		return FinishStop
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

// ToolDeclaration is a tool schema as presented to the model.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice is the tool selection policy sent with a request. The zero value
// leaves the field out of the request.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)
