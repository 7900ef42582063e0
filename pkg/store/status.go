package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

// WriteInstanceStatus rewrites an instance's heartbeat file. Atomic so
// the status command never reads a torn record.
func (s *Store) WriteInstanceStatus(st *types.InstanceStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status for %s: %w", st.InstanceID, err)
	}
	return s.writeFileAtomic(s.statusPath(st.InstanceID), data)
}

// ListInstanceStatuses reads every instance heartbeat. Files that fail
// to decode are skipped: a half-dead instance must not break status
// reporting for the whole fleet.
func (s *Store) ListInstanceStatuses() ([]*types.InstanceStatus, error) {
	dir := filepath.Join(s.root, "status")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list instance statuses: %w", err)
	}

	var out []*types.InstanceStatus
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var st types.InstanceStatus
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		out = append(out, &st)
	}
	return out, nil
}

// RequestStop raises the cooperative stop flag for a machine tag. Every
// instance on that machine observes it at its next item boundary; the
// flag lives in the shared store so stop works across hosts.
func (s *Store) RequestStop(machineTag string) error {
	f, err := os.OpenFile(s.stopFlagPath(machineTag), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to raise stop flag for %s: %w", machineTag, err)
	}
	return f.Close()
}

// StopRequested reports whether the machine's stop flag is raised.
func (s *Store) StopRequested(machineTag string) bool {
	_, err := os.Stat(s.stopFlagPath(machineTag))
	return err == nil
}

// ClearStop lowers the machine's stop flag; the launcher clears it
// before starting instances.
func (s *Store) ClearStop(machineTag string) error {
	if err := os.Remove(s.stopFlagPath(machineTag)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stop flag for %s: %w", machineTag, err)
	}
	return nil
}

// WriteMarker records that a phase's failure stream has been fully
// consumed by the next phase's launcher.
func (s *Store) WriteMarker(phase int) error {
	f, err := os.OpenFile(s.markerPath(phase), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to write marker for phase %d: %w", phase, err)
	}
	return f.Close()
}

// MarkerExists reports whether a phase's done marker is present.
func (s *Store) MarkerExists(phase int) bool {
	_, err := os.Stat(s.markerPath(phase))
	return err == nil
}
