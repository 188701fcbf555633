package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Memory is a markdown file of "- fact" lines shared by the memory tools.
type Memory struct {
	mu   sync.Mutex
	path string
}

// NewMemory returns a Memory stored at path. The file is created on the
// first save.
func NewMemory(path string) *Memory {
	return &Memory{path: path}
}

// Path returns the backing file.
func (m *Memory) Path() string { return m.path }

// Facts returns the stored facts without their list markers.
func (m *Memory) Facts() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, err := m.read()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range strings.Split(content, "\n") {
		if fact := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "- ")); fact != "" {
			out = append(out, fact)
		}
	}
	return out, nil
}

func (m *Memory) read() (string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (m *Memory) write(content string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.path, []byte(content), 0o644)
}

func contentSchema(desc string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": %q}
		},
		"required": ["content"]
	}`, desc))
}

func parseContent(args json.RawMessage) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if strings.TrimSpace(params.Content) == "" {
		return "", fmt.Errorf("content is required")
	}
	return strings.TrimSpace(params.Content), nil
}

// MemorySave appends a fact unless it is already stored.
type MemorySave struct{ mem *Memory }

func NewMemorySave(mem *Memory) *MemorySave { return &MemorySave{mem: mem} }

func (t *MemorySave) Name() string        { return "memory_save" }
func (t *MemorySave) Description() string { return "Save a fact or preference to persistent memory" }
func (t *MemorySave) Parameters() json.RawMessage {
	return contentSchema("The fact or preference to remember")
}

func (t *MemorySave) Execute(_ context.Context, args json.RawMessage) (string, error) {
	fact, err := parseContent(args)
	if err != nil {
		return "", err
	}

	t.mem.mu.Lock()
	defer t.mem.mu.Unlock()

	existing, err := t.mem.read()
	if err != nil {
		return "", err
	}
	line := "- " + fact
	for _, l := range strings.Split(existing, "\n") {
		if strings.TrimSpace(l) == line {
			return "Memory already exists: " + fact, nil
		}
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	if err := t.mem.write(existing + line + "\n"); err != nil {
		return "", err
	}
	return "Saved: " + fact, nil
}

// MemoryDelete removes a stored fact.
type MemoryDelete struct{ mem *Memory }

func NewMemoryDelete(mem *Memory) *MemoryDelete { return &MemoryDelete{mem: mem} }

func (t *MemoryDelete) Name() string        { return "memory_delete" }
func (t *MemoryDelete) Description() string { return "Delete a fact or preference from persistent memory" }
func (t *MemoryDelete) Parameters() json.RawMessage {
	return contentSchema("The fact or preference to forget (must match an existing entry)")
}

func (t *MemoryDelete) Execute(_ context.Context, args json.RawMessage) (string, error) {
	fact, err := parseContent(args)
	if err != nil {
		return "", err
	}

	t.mem.mu.Lock()
	defer t.mem.mu.Unlock()

	existing, err := t.mem.read()
	if err != nil {
		return "", err
	}

	target := "- " + fact
	var kept []string
	found := false
	for _, l := range strings.Split(existing, "\n") {
		if strings.TrimSpace(l) == target {
			found = true
			continue
		}
		if l != "" {
			kept = append(kept, l)
		}
	}
	if !found {
		return "Memory not found: " + fact, nil
	}

	content := ""
	if len(kept) > 0 {
		content = strings.Join(kept, "\n") + "\n"
	}
	if err := t.mem.write(content); err != nil {
		return "", err
	}
	return "Deleted: " + fact, nil
}

// MemoryList returns the whole memory file.
type MemoryList struct{ mem *Memory }

func NewMemoryList(mem *Memory) *MemoryList { return &MemoryList{mem: mem} }

func (t *MemoryList) Name() string        { return "memory_list" }
func (t *MemoryList) Description() string { return "List all facts and preferences in persistent memory" }
func (t *MemoryList) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *MemoryList) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	t.mem.mu.Lock()
	defer t.mem.mu.Unlock()

	content, err := t.mem.read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "No memories stored yet.", nil
	}
	return content, nil
}
