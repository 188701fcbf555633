// internal/state/prices.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/toolchat/internal/types"
)

// FilePriceHistory is an append-only JSONL price log, one file per asset
// at prices/<asset>.jsonl.
type FilePriceHistory struct {
	root string
	mu   sync.Mutex
}

// NewFilePriceHistory creates a price history rooted at the given directory.
func NewFilePriceHistory(root string) *FilePriceHistory {
	return &FilePriceHistory{root: root}
}

func (h *FilePriceHistory) path(asset string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.ToLower(asset))
	return filepath.Join(h.root, "prices", name+".jsonl")
}

// Append adds a reading, filling in ID and At when unset.
func (h *FilePriceHistory) Append(_ context.Context, r *types.PriceReading) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r.ID == "" {
		r.ID = types.NewReadingID()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	p := h.path(r.Asset)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create prices dir: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open prices file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	return nil
}

// Latest returns the newest reading for asset, or nil.
func (h *FilePriceHistory) Latest(ctx context.Context, asset string) (*types.PriceReading, error) {
	recent, err := h.Recent(ctx, asset, 1)
	if err != nil || len(recent) == 0 {
		return nil, err
	}
	return recent[0], nil
}

// Recent returns up to limit readings, newest first.
func (h *FilePriceHistory) Recent(_ context.Context, asset string, limit int) ([]*types.PriceReading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path(asset))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open prices file: %w", err)
	}
	defer f.Close()

	var readings []*types.PriceReading
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	for scanner.Scan() {
		var r types.PriceReading
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("unmarshal reading: %w", err)
		}
		readings = append(readings, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan prices file: %w", err)
	}

	if limit > 0 && len(readings) > limit {
		readings = readings[len(readings)-limit:]
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}
