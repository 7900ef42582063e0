package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

func (s *Store) decisionPath(itemID string) string {
	return filepath.Join(s.root, "review", itemID+".json")
}

// WriteDecision records a manual-review decision next to the queue it
// settles. The file doubles as the audit trail of who decided what.
func (s *Store) WriteDecision(d *types.ReviewDecision) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decision %s: %w", d.ItemID, err)
	}
	return s.writeFileAtomic(s.decisionPath(d.ItemID), data)
}

// LoadDecision reads the recorded decision for one item, or nil when
// none was made.
func (s *Store) LoadDecision(itemID string) (*types.ReviewDecision, error) {
	data, err := os.ReadFile(s.decisionPath(itemID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision %s: %w", itemID, err)
	}
	var d types.ReviewDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode decision %s: %w", itemID, err)
	}
	return &d, nil
}

// ListDecisions returns all recorded decisions sorted by item ID.
func (s *Store) ListDecisions() ([]*types.ReviewDecision, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "review"))
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	var out []*types.ReviewDecision
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		d, err := s.LoadDecision(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}
