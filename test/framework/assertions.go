package framework

import (
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

// TestingT is the slice of testing.T the assertions need.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

// Assertions checks pipeline outcomes against the work store.
type Assertions struct {
	t  TestingT
	st *store.Store
}

// NewAssertions creates assertions bound to one store.
func NewAssertions(t TestingT, st *store.Store) *Assertions {
	return &Assertions{t: t, st: st}
}

// Assert returns assertions bound to the pipeline's store.
func (p *Pipeline) Assert() *Assertions {
	return NewAssertions(p.T, p.Store)
}

// Artifact asserts the item has an artifact from the given phase and
// returns it.
func (a *Assertions) Artifact(itemID string, phase int) *types.Artifact {
	a.t.Helper()
	art, err := a.st.FindArtifact(itemID)
	if err != nil {
		a.t.Fatalf("no artifact for %s: %v", itemID, err)
	}
	if art.Phase != phase {
		a.t.Fatalf("artifact for %s came from phase %d, want phase %d", itemID, art.Phase, phase)
	}
	return art
}

// NoArtifact asserts the item produced no artifact in any phase.
func (a *Assertions) NoArtifact(itemID string) {
	a.t.Helper()
	ok, err := a.st.HasArtifact(itemID)
	if err != nil {
		a.t.Fatalf("artifact check for %s: %v", itemID, err)
	}
	if ok {
		a.t.Fatalf("item %s has an artifact, want none", itemID)
	}
}

// Failure asserts the phase's failure stream holds a record for the
// item and returns it.
func (a *Assertions) Failure(itemID string, phase int) *types.FailureRecord {
	a.t.Helper()
	records, err := a.st.ReadFailures(phase)
	if err != nil {
		a.t.Fatalf("failed to read phase %d failures: %v", phase, err)
	}
	for _, rec := range records {
		if rec.ItemID == itemID {
			return rec
		}
	}
	a.t.Fatalf("no phase %d failure for %s (%d records)", phase, itemID, len(records))
	return nil
}

// Kind asserts the artifact's document kind.
func (a *Assertions) Kind(art *types.Artifact, kind types.DocumentKind) {
	a.t.Helper()
	if art.DocKind != kind {
		a.t.Fatalf("item %s classified as %s, want %s", art.ItemID, art.DocKind, kind)
	}
}

// Field asserts one extracted field value on the artifact.
func (a *Assertions) Field(art *types.Artifact, name, want string) {
	a.t.Helper()
	if got := art.Fields[name]; got != want {
		a.t.Fatalf("item %s field %s = %q, want %q", art.ItemID, name, got, want)
	}
}
