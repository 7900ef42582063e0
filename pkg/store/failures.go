package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mailsift/mailsift/pkg/types"
)

// MaxFailureRecordSize bounds a serialized failure record (including
// the trailing newline). Records below this size are written with a
// single O_APPEND write, which the shared filesystem applies atomically
// even with interleaved writers on different hosts.
const MaxFailureRecordSize = 4096

// AppendFailure appends one record to the failure stream of the phase
// that produced it (rec.Phase). The stream is the next phase's input.
func (s *Store) AppendFailure(rec *types.FailureRecord) error {
	return s.appendRecord(s.failurePath(rec.Phase), rec)
}

// AppendDeferred appends a record to the phase-3 deferred queue, used
// when the external-model budget is exhausted. Deferred items are not
// failures; a later phase-3 run re-reads them first.
func (s *Store) AppendDeferred(rec *types.FailureRecord) error {
	return s.appendRecord(s.deferredPath(), rec)
}

func (s *Store) appendRecord(path string, rec *types.FailureRecord) error {
	data, err := marshalBounded(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open failure stream %s: %w", path, err)
	}
	// One write per record; never split across syscalls.
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to append failure for %s: %w", rec.ItemID, werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close failure stream %s: %w", path, cerr)
	}
	return nil
}

// marshalBounded serializes a record and truncates its text snippet
// until the line (with newline) fits MaxFailureRecordSize.
func marshalBounded(rec *types.FailureRecord) ([]byte, error) {
	r := *rec
	for {
		data, err := json.Marshal(&r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal failure for %s: %w", rec.ItemID, err)
		}
		if len(data)+1 <= MaxFailureRecordSize {
			return append(data, '\n'), nil
		}
		if r.LastTextSnippet == "" {
			return nil, fmt.Errorf("failure record for %s exceeds %d bytes without snippet", rec.ItemID, MaxFailureRecordSize)
		}
		runes := []rune(r.LastTextSnippet)
		r.LastTextSnippet = string(runes[:len(runes)*3/4])
	}
}

// ReadFailures decodes the failure stream produced by a phase, in
// arrival order. Blank lines are skipped; a corrupt line is an error
// because the stream is a processing contract, not a log.
func (s *Store) ReadFailures(phase int) ([]*types.FailureRecord, error) {
	return readRecords(s.failurePath(phase))
}

// ReadDeferred decodes the phase-3 deferred queue.
func (s *Store) ReadDeferred() ([]*types.FailureRecord, error) {
	return readRecords(s.deferredPath())
}

func readRecords(path string) ([]*types.FailureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open failure stream %s: %w", path, err)
	}
	defer f.Close()

	var out []*types.FailureRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, MaxFailureRecordSize), MaxFailureRecordSize)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec types.FailureRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s line %d: %w", path, line, err)
		}
		out = append(out, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failure stream %s: %w", path, err)
	}
	return out, nil
}

// CountFailures returns the length of a phase's failure stream.
func (s *Store) CountFailures(phase int) (int, error) {
	recs, err := s.ReadFailures(phase)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}
