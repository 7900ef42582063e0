package review

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir(), store.WithHostname("review-host"))
	require.NoError(t, err)
	return New(s), s
}

func addItem(t *testing.T, s *store.Store, itemID string) *types.WorkItem {
	t.Helper()
	dir := filepath.Join(s.InputDir(), itemID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	eml := "From: Dodavatel s.r.o. <fakturace@dodavatel.cz>\r\nTo: me@example.cz\r\n" +
		"Subject: Faktura 2024-0099\r\nDate: Mon, 5 Feb 2024 09:00:00 +0100\r\n\r\n" +
		"Dobry den, zasilame fakturu c. 2024-0099 na castku 3 500 Kc.\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "message.eml"), []byte(eml), 0644))

	item, err := s.Item(itemID)
	require.NoError(t, err)
	return item
}

func TestPendingListsUnresolved(t *testing.T) {
	m, s := newTestManager(t)

	require.NoError(t, s.AppendFailure(&types.FailureRecord{ItemID: "item_a", Phase: 3, Reason: types.ReasonModelTimeout}))
	require.NoError(t, s.AppendFailure(&types.FailureRecord{ItemID: "item_b", Phase: 3, Reason: types.ReasonModelUnparseable}))
	require.NoError(t, s.AppendFailure(&types.FailureRecord{ItemID: "item_c", Phase: 3, Reason: types.ReasonModelTimeout}))
	require.NoError(t, s.WriteArtifact(&types.Artifact{ItemID: "item_b", Phase: 4, DocKind: types.KindInvoice}))
	require.NoError(t, s.WriteDecision(&types.ReviewDecision{ItemID: "item_c", Reject: true}))

	queue, err := m.Pending()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "item_a", queue[0].ItemID)
}

func TestApplyWritesArtifact(t *testing.T) {
	m, s := newTestManager(t)
	addItem(t, s, "item_a")

	art, err := m.Apply(&types.ReviewDecision{
		ItemID: "item_a",
		Kind:   types.KindInvoice,
		Fields: map[string]string{types.FieldCastkaCelkem: "3500"},
	})
	require.NoError(t, err)
	require.NotNil(t, art)

	assert.Equal(t, 4, art.Phase)
	assert.Equal(t, types.KindInvoice, art.DocKind)
	assert.InDelta(t, 1.0, art.Confidence, 0.001)
	assert.Equal(t, "3500", art.Fields[types.FieldCastkaCelkem])
	assert.Equal(t, "invoice", art.Fields[types.FieldDocTyp])
	assert.Equal(t, "2024-02-05", art.Fields[types.FieldDatumDokumentu])
	assert.True(t, s.XMLExists("item_a"))

	done, err := s.HasArtifact("item_a")
	require.NoError(t, err)
	assert.True(t, done)

	d, err := s.LoadDecision("item_a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "review-host", d.Reviewer)
	assert.False(t, d.DecidedAt.IsZero())
}

func TestApplyReject(t *testing.T) {
	m, s := newTestManager(t)
	addItem(t, s, "item_a")

	art, err := m.Apply(&types.ReviewDecision{ItemID: "item_a", Reject: true, Reviewer: "jana"})
	require.NoError(t, err)
	assert.Nil(t, art)

	records, err := s.ReadFailures(4)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.ReasonReviewRejected, records[0].Reason)
	assert.Contains(t, records[0].LastTextSnippet, "fakturu")

	d, err := s.LoadDecision("item_a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Reject)
	assert.Equal(t, "jana", d.Reviewer)
}

func TestApplyRejectsBadInput(t *testing.T) {
	m, s := newTestManager(t)
	addItem(t, s, "item_a")

	_, err := m.Apply(&types.ReviewDecision{ItemID: "item_a", Kind: "not_a_kind"})
	require.Error(t, err)

	_, err = m.Apply(&types.ReviewDecision{ItemID: "item_a", Kind: types.KindUnknown})
	require.Error(t, err)

	_, err = m.Apply(&types.ReviewDecision{
		ItemID: "item_a",
		Kind:   types.KindInvoice,
		Fields: map[string]string{"typo_field": "x"},
	})
	require.ErrorIs(t, err, ErrUnknownField)

	records, err := s.ReadFailures(4)
	require.NoError(t, err)
	assert.Empty(t, records, "a refused decision must leave no trace")
}

func TestApplyAlreadyDecided(t *testing.T) {
	m, s := newTestManager(t)
	addItem(t, s, "item_a")
	require.NoError(t, s.WriteArtifact(&types.Artifact{ItemID: "item_a", Phase: 3, DocKind: types.KindOrder}))

	_, err := m.Apply(&types.ReviewDecision{ItemID: "item_a", Kind: types.KindInvoice})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrAlreadyDone))
}

func TestApplyReleasesLock(t *testing.T) {
	m, s := newTestManager(t)
	addItem(t, s, "item_a")

	_, err := m.Apply(&types.ReviewDecision{ItemID: "item_a", Kind: types.KindCorrespondence})
	require.NoError(t, err)

	_, err = s.LockOwner(4, "item_a")
	assert.True(t, os.IsNotExist(err), "lock must be gone after apply")
}
