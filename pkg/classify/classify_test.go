package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/types"
)

// TestClassifyInvoice scores a typical Czech invoice over the
// threshold with all required patterns present.
func TestClassifyInvoice(t *testing.T) {
	c := Default()

	text := `FAKTURA č. 2024-001
Dodavatel: Web Hosting s.r.o., IČO: 12345678, DIČ: CZ12345678
Datum splatnosti: 15.02.2024
Variabilní symbol: 2024001
Celkem k úhradě: 1 210,00 Kč vč. DPH 21%`

	res := c.Classify(nil, text)
	assert.Equal(t, types.KindInvoice, res.Kind)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.LessOrEqual(t, res.Confidence, 0.95)
}

// TestClassifySystemNotification runs the sender/subject pre-check
// before any rule scoring.
func TestClassifySystemNotification(t *testing.T) {
	c := Default()

	env := &types.Envelope{
		From:    "noreply@loxone.com",
		Subject: "Statistika Miniserver 2024-01",
	}
	res := c.Classify(env, "Teplota obývací pokoj 21.5°C\nVlhkost 45%")
	assert.Equal(t, types.KindSystemNotification, res.Kind)
	assert.Equal(t, 0.99, res.Confidence)
	assert.Equal(t, -1, res.Rule)
}

// TestClassifyProformaBeatsInvoice: "zálohová faktura" contains the
// invoice vocabulary, so the narrower rule must win on priority.
func TestClassifyProformaBeatsInvoice(t *testing.T) {
	c := Default()

	text := `ZÁLOHOVÁ FAKTURA č. 2024-055
IČO: 12345678, DIČ: CZ12345678
Platba předem na účet.`

	res := c.Classify(nil, text)
	assert.Equal(t, types.KindProforma, res.Kind)
}

// TestClassifyGasReceipt requires both liters and an amount.
func TestClassifyGasReceipt(t *testing.T) {
	c := Default()

	text := `OMV Čerpací stanice Praha 4
Natural 95
45,20 l x 38,90 Kč
Celkem: 1758,28 Kč`

	res := c.Classify(nil, text)
	assert.Equal(t, types.KindGasReceipt, res.Kind)
}

// TestClassifyUnknownBelowThreshold reports the best losing score as
// confidence so callers can log how close the item came.
func TestClassifyUnknownBelowThreshold(t *testing.T) {
	c := Default()

	res := c.Classify(nil, "nothing resembling a document at all")
	assert.Equal(t, types.KindUnknown, res.Kind)
	assert.Equal(t, -1, res.Rule)
	assert.Less(t, res.Confidence, 0.5)
}

// TestClassifyNegativeDisqualifies: marketing vocabulary inside an
// invoice must not classify as marketing.
func TestClassifyNegativeDisqualifies(t *testing.T) {
	c := Default()

	text := `Exkluzivní SLEVA 20% pro stálé zákazníky!
FAKTURA v příloze.`

	res := c.Classify(nil, text)
	assert.NotEqual(t, types.KindMarketing, res.Kind)
}

func TestClassifyCorrespondence(t *testing.T) {
	c := Default()

	text := `Dobrý den,
děkuji za zaslané podklady, ozvu se příští týden.
S pozdravem
Jan Novák`

	res := c.Classify(nil, text)
	assert.Equal(t, types.KindCorrespondence, res.Kind)
}

// TestClassifySubjectContributes folds the envelope subject into the
// scored text.
func TestClassifySubjectContributes(t *testing.T) {
	c := Default()

	env := &types.Envelope{
		From:    "ucetni@firma.cz",
		Subject: "Faktura za hosting, variabilní symbol 2024001",
	}
	body := "V příloze zasíláme doklad. IČO: 12345678, DIČ: CZ12345678, DPH 21%."
	res := c.Classify(env, body)
	assert.Equal(t, types.KindInvoice, res.Kind)
}

func TestIsSystemNotification(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		subject string
		want    bool
	}{
		{"noreply sender", "noreply@example.com", "Your report", true},
		{"no-reply sender", "no-reply@shop.cz", "Order shipped", true},
		{"synology sender", "admin@synology-nas.local", "Backup done", true},
		{"alert subject", "boss@firma.cz", "ALERT: disk full", true},
		{"ip subject", "dsm@firma.cz", "[192.168.1.10] DiskStation", true},
		{"czech automatic subject", "info@firma.cz", "Automatická zpráva systému", true},
		{"miniserver subject", "info@home.cz", "Miniserver restart", true},
		{"regular mail", "jan@firma.cz", "Faktura 2024-001", false},
		{"robot word inside address user part", "jan.novak@firma.cz", "Schůzka", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSystemNotification(tt.from, tt.subject))
		})
	}
}

func TestForceKind(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		subject string
		summary string
		want    types.DocumentKind
	}{
		{"docker note", "me@firma.cz", "docker compose setup", "", types.KindITNotes},
		{"web project", "me@firma.cz", "homepage draft", "", types.KindProjectNotes},
		{"greeting", "x@firma.cz", "RE: schůzka", "dobrý den, posílám podklady", types.KindCorrespondence},
		{"promo", "shop@eshop.cz", "Velká promo kampaň", "", types.KindMarketing},
		{"photo fallback", "me@firma.cz", "IMG_2041", "foto ze stavby", types.KindProjectNotes},
		{"personal domain fallback", "franta@gmail.com", "ahoj", "", types.KindCorrespondence},
		{"default fallback", "x@firma.cz", "xyz", "", types.KindCorrespondence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForceKind(tt.from, tt.subject, tt.summary, "")
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestLoadRuleTable round-trips an external YAML table.
func TestLoadRuleTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	yaml := `rules:
  - kind: invoice
    priority: 10
    base_score: 90
    keywords: ["faktura"]
    required: ["IČO"]
  - kind: receipt
    priority: 5
    base_score: 80
    keywords: ["účtenka"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	res := c.Classify(nil, "Faktura za služby, IČO: 12345678")
	assert.Equal(t, types.KindInvoice, res.Kind)

	res = c.Classify(nil, "Účtenka z obchodu")
	assert.Equal(t, types.KindReceipt, res.Kind)
}

func TestNewRejectsBadRules(t *testing.T) {
	_, err := New([]Rule{{Kind: "nonsense", Keywords: []string{"x"}}})
	require.Error(t, err)

	_, err = New([]Rule{{Kind: types.KindInvoice}})
	require.Error(t, err)

	_, err = New([]Rule{{Kind: types.KindInvoice, Keywords: []string{"("}}})
	require.Error(t, err)
}

// TestDefaultRulesCompile guards the built-in table against pattern
// regressions.
func TestDefaultRulesCompile(t *testing.T) {
	c, err := New(DefaultRules())
	require.NoError(t, err)
	require.NotEmpty(t, c.rules)
}
