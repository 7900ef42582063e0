package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/review"
	"github.com/mailsift/mailsift/pkg/types"
	"github.com/mailsift/mailsift/test/framework"
)

// invoiceBody renders a Czech invoice the rule tables classify without
// any model help. Distinct numbers keep the content checksums apart.
func invoiceBody(number, total string) string {
	return `Dobrý den,

v příloze zasíláme fakturu č. ` + number + `.

FAKTURA - daňový doklad
Variabilní symbol: ` + number + `
IČO: 12345678
DIČ: CZ12345678
Datum vystavení: 15.01.2024
Datum splatnosti: 29.01.2024
Celkem k úhradě: ` + total + ` Kč

Děkujeme za včasnou platbu.
`
}

// The escalating bodies are everyday mail with no rule vocabulary in
// them, long enough to clear the extraction length gate, so phase 1
// hands them to the model tiers.
const (
	meetingBody = `Zdravím Vás, paní Veselá,

posílám slíbené poznámky k plánované úpravě zahrady a seznam rostlin,
o kterých jsme mluvili při posezení na terase. Dejte mi vědět, který
jarní termín by Vám vyhovoval, ať sazenice stihneme zasadit včas.

Jana Květinová, Zahradnictví Květ
`

	movingBody = `Zdravím,

potvrzuji domluvený termín stěhování archivu na příští středu od osmi
hodin. Přistavíme dodávku ke dvoru, krabice přeneseme sami a výtah
rezervovat nemusíte. Kontakt na řidiče pošlu den předem, kdyby se
cokoli změnilo, ozvěte se.

Petr Silný, Stěhování Silný a synové
`

	cottageBody = `Zdravím,

klíče od chaty nechám v pátek u sousedky paní Malé, zvonek je hned
vedle vrátek. Vodu jsem pustil, elektrika jde od sloupku za stodolou.
Kdyby cokoliv, volejte mi na mobil, budu na příjmu celý víkend.

Užijte si pobyt, Karel
`

	partyBody = `Zdravím,

zveme tě v sobotu na oslavu třicátin do stodoly u rybníka. Začínáme ve
čtyři odpoledne, něco dobrého na gril vezmi s sebou, pití zajistíme.
Dej vědět, jestli dorazíš i s Lucií, ať máme dost židlí.

Tomáš
`
)

// TestPipelineEndToEnd runs the whole extraction pipeline against the
// stub collaborators: rule classification in phase 1, tier agreement
// in phase 2, the external model in phase 3, and an idempotent
// delivery pass at the end.
func TestPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline end-to-end test in short mode")
	}

	p := framework.New(t)
	a := p.Assert()

	p.Seed("invoice-001", "Zahrada Servis <fakturace@zahradaservis.cz>", "Faktura 2024-0101", invoiceBody("2024-0101", "1 210,50"))
	p.Seed("invoice-002", "Zahrada Servis <fakturace@zahradaservis.cz>", "Faktura 2024-0102", "Dobrý den, fakturu zasíláme v příloze tohoto emailu.")
	p.SeedAttachment("invoice-002", "faktura.pdf", []byte("%PDF-1.4 faktura 2024-0102"))
	p.OCR.Text("faktura.pdf", invoiceBody("2024-0102", "880,00"))
	p.Seed("backup-003", "noreply@nas.example.cz", "Zálohování dokončeno", "Úloha zálohování byla dokončena bez chyb.")
	p.Seed("meeting-004", "Jana Květinová <jana@zahradnictvikvet.cz>", "Poznámky k úpravě zahrady", meetingBody)
	p.Seed("moving-005", "Petr Silný <petr@stehovanisilny.cz>", "Stěhování archivu", movingBody)
	p.Seed("cottage-006", "Karel Chalupa <karel.chalupa@email.cz>", "Klíče od chaty", cottageBody)

	p.Inference.Answer("posezení na terase", framework.Verdict("correspondence", "Zahradnictví Květ", ""))
	p.Inference.AnswerDefault("Dokument nedokážu zařadit, chybí mi vodítka.")
	p.External.Answer("stěhování archivu", framework.Verdict("order", "Stěhování Silný a synové", "4800.00"))
	p.External.AnswerDefault("Bohužel nedokážu odpovědět.")

	res1 := p.Launch(1)
	assert.Equal(t, 3, res1.Summary.Processed)
	assert.Equal(t, 3, res1.Summary.Failed)
	assert.False(t, res1.Summary.Stopped)
	assert.Equal(t, 2, res1.ExitCode())

	a.Kind(a.Artifact("invoice-001", 1), types.KindInvoice)
	a.Kind(a.Artifact("invoice-002", 1), types.KindInvoice)
	a.Kind(a.Artifact("backup-003", 1), types.KindSystemNotification)
	assert.Equal(t, 1, p.OCR.Calls())
	assert.True(t, p.Store.XMLExists("invoice-001"))
	assert.False(t, p.Store.XMLExists("backup-003"))

	for _, id := range []string{"meeting-004", "moving-005", "cottage-006"} {
		rec := a.Failure(id, 1)
		assert.Equal(t, types.ReasonUnclassified, rec.Reason)
	}

	res2 := p.Launch(2)
	assert.Equal(t, 1, res2.Summary.Processed)
	assert.Equal(t, 2, res2.Summary.Failed)
	assert.True(t, res2.Drained)
	assert.True(t, p.Store.MarkerExists(1))

	meeting := a.Artifact("meeting-004", 2)
	a.Kind(meeting, types.KindCorrespondence)
	a.Field(meeting, types.FieldProtistranaNazev, "Zahradnictví Květ")
	// The envelope date stays authoritative over anything a model says.
	a.Field(meeting, types.FieldDatumDokumentu, "2024-01-15")

	for _, id := range []string{"moving-005", "cottage-006"} {
		rec := a.Failure(id, 2)
		assert.Equal(t, types.ReasonModelUnparseable, rec.Reason)
	}

	res3 := p.Launch(3)
	assert.Equal(t, 1, res3.Summary.Processed)
	assert.Equal(t, 1, res3.Summary.Failed)
	assert.True(t, res3.Drained)
	assert.True(t, p.Store.MarkerExists(2))
	assert.Equal(t, 2, p.External.Calls())
	assert.Equal(t, "Bearer e2e-external-token", p.External.Auth())

	moving := a.Artifact("moving-005", 3)
	a.Kind(moving, types.KindOrder)
	a.Field(moving, types.FieldCastkaCelkem, "4800.00")
	a.Failure("cottage-006", 3)
	a.NoArtifact("cottage-006")

	sum := p.Deliver()
	assert.Equal(t, 5, sum.Delivered)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)

	uploads := p.Documents.Uploads()
	require.Len(t, uploads, 5)
	byTitle := make(map[string]framework.UploadForm, len(uploads))
	for _, up := range uploads {
		assert.NotEmpty(t, up.Title)
		assert.NotEmpty(t, up.DocumentType)
		assert.Greater(t, up.Size, 0)
		byTitle[up.Title] = up
	}
	assert.Contains(t, byTitle, "Faktura 2024-0101")
	assert.Contains(t, byTitle, "Stěhování archivu")
	// The attachment, not the envelope, is the delivered blob.
	assert.Equal(t, "faktura.pdf", byTitle["Faktura 2024-0102"].Filename)
	assert.Contains(t, p.Documents.Names("document_types"), "Faktura")
	assert.Contains(t, p.Documents.Names("document_types"), "Korespondence")
	assert.Equal(t, "Token e2e-token", p.Documents.Auth())
	assert.Equal(t, 5, p.Documents.PatchCount())

	// A second pass must not touch the service again: the ledger
	// answers for every artifact before any request is made.
	again := p.Deliver()
	assert.Equal(t, 0, again.Delivered)
	assert.Equal(t, 5, again.Skipped)
	assert.Len(t, p.Documents.Uploads(), 5)
	assert.Equal(t, 5, p.Documents.PatchCount())
}

// TestManualReviewSettlesStubbornItems drives two items through every
// model phase without an answer, settles them by hand, and checks only
// the accepted one reaches delivery.
func TestManualReviewSettlesStubbornItems(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping review end-to-end test in short mode")
	}

	p := framework.New(t)
	a := p.Assert()

	p.Seed("cottage-777", "Karel Chalupa <karel.chalupa@email.cz>", "Klíče od chaty", cottageBody)
	p.Seed("party-555", "Tomáš Novotný <tomas.novotny@email.cz>", "Oslava v sobotu", partyBody)
	p.Inference.AnswerDefault("Tady si nejsem jistý.")
	p.External.AnswerDefault("Na tento dotaz nemohu odpovědět.")

	assert.Equal(t, 2, p.Launch(1).Summary.Failed)
	assert.Equal(t, 2, p.Launch(2).Summary.Failed)
	assert.Equal(t, 2, p.Launch(3).Summary.Failed)

	m := review.New(p.Store)
	queue, err := m.Pending()
	require.NoError(t, err)
	require.Len(t, queue, 2)

	art, err := m.Apply(&types.ReviewDecision{
		ItemID:   "cottage-777",
		Kind:     types.KindCorrespondence,
		Fields:   map[string]string{types.FieldPredmet: "Klíče od chaty"},
		Reviewer: "jana",
	})
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, 4, art.Phase)

	rejected, err := m.Apply(&types.ReviewDecision{ItemID: "party-555", Reject: true, Reviewer: "jana"})
	require.NoError(t, err)
	assert.Nil(t, rejected)

	queue, err = m.Pending()
	require.NoError(t, err)
	assert.Empty(t, queue)

	sum := p.Deliver()
	assert.Equal(t, 1, sum.Delivered)

	uploads := p.Documents.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "Klíče od chaty", uploads[0].Title)
	a.NoArtifact("party-555")
}
