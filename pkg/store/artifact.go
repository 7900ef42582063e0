package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

// WriteArtifact publishes an item's success record. The write goes to a
// temp file in the same directory and is renamed into place, so readers
// on other hosts never observe a partial Artifact. Any error removes
// the temp file; the caller still holds the lock and rolls back by
// releasing it.
func (s *Store) WriteArtifact(a *types.Artifact) error {
	if a.Phase < 1 || a.Phase > types.PhaseCount {
		return fmt.Errorf("invalid artifact phase %d", a.Phase)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", a.ItemID, err)
	}
	return s.writeFileAtomic(s.resultPath(a.Phase, a.ItemID), data)
}

// WriteXML publishes the structured-document payload for an accounting
// item, with the same atomicity as artifacts.
func (s *Store) WriteXML(itemID string, data []byte) error {
	return s.writeFileAtomic(s.xmlPath(itemID), data)
}

// XMLExists reports whether a structured payload was emitted for the item.
func (s *Store) XMLExists(itemID string) bool {
	_, err := os.Stat(s.xmlPath(itemID))
	return err == nil
}

func (s *Store) writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}

// HasArtifact reports whether any phase has published an Artifact for
// the item.
func (s *Store) HasArtifact(itemID string) (bool, error) {
	for phase := 1; phase <= types.PhaseCount; phase++ {
		_, err := os.Stat(s.resultPath(phase, itemID))
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to check artifact for %s: %w", itemID, err)
		}
	}
	return false, nil
}

// LoadArtifact reads one phase's Artifact for an item.
func (s *Store) LoadArtifact(phase int, itemID string) (*types.Artifact, error) {
	data, err := os.ReadFile(s.resultPath(phase, itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact for %s: %w", itemID, err)
	}
	var a types.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact for %s: %w", itemID, err)
	}
	return &a, nil
}

// FindArtifact locates an item's Artifact in whichever phase wrote it.
func (s *Store) FindArtifact(itemID string) (*types.Artifact, error) {
	for phase := 1; phase <= types.PhaseCount; phase++ {
		if _, err := os.Stat(s.resultPath(phase, itemID)); err == nil {
			return s.LoadArtifact(phase, itemID)
		}
	}
	return nil, fmt.Errorf("no artifact for item %s", itemID)
}

// ListArtifacts returns every Artifact of every phase, in directory
// discovery order. Delivery iterates this union; since delivery is
// idempotent and content-addressed, the order is not significant.
func (s *Store) ListArtifacts() ([]*types.Artifact, error) {
	var out []*types.Artifact
	for phase := 1; phase <= types.PhaseCount; phase++ {
		dir := filepath.Join(s.root, "results", phaseDir(phase))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to list artifacts for phase %d: %w", phase, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			a, err := s.LoadArtifact(phase, strings.TrimSuffix(name, ".json"))
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// CountArtifacts returns the number of Artifacts one phase has written.
func (s *Store) CountArtifacts(phase int) (int, error) {
	dir := filepath.Join(s.root, "results", phaseDir(phase))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count artifacts for phase %d: %w", phase, err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			n++
		}
	}
	return n, nil
}
