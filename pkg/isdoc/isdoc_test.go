package isdoc

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/types"
)

func sampleFields() map[string]string {
	f := types.EmptyFields()
	f[types.FieldCisloDokumentu] = "2024-0123"
	f[types.FieldDatumDokumentu] = "2024-01-15"
	f[types.FieldDatumSplatnosti] = "2024-01-29"
	f[types.FieldCastkaCelkem] = "1210"
	f[types.FieldMena] = "CZK"
	f[types.FieldProtistranaNazev] = "Web Hosting"
	f[types.FieldProtistranaICO] = "12345678"
	return f
}

const sampleText = `DIČ: CZ12345678
Variabilní symbol: 20240123
Číslo účtu: 2000145399/0800`

func TestFromFields(t *testing.T) {
	doc := FromFields(types.KindInvoice, sampleFields(), sampleText)

	assert.Equal(t, "2024-0123", doc.Number)
	assert.Equal(t, "2024-01-15", doc.IssueDate)
	assert.Equal(t, "2024-01-29", doc.DueDate)
	assert.Equal(t, "CZK", doc.Currency)
	assert.InDelta(t, 1210.0, doc.TotalGross, 0.001)
	assert.Equal(t, "Web Hosting", doc.Supplier.Name)
	assert.Equal(t, "12345678", doc.Supplier.ICO)
	assert.Equal(t, "CZ12345678", doc.Supplier.DIC)
	assert.Equal(t, "2000145399/0800", doc.BankAccount)
	assert.Equal(t, "20240123", doc.VariableSymbol)
}

// TestVariableSymbolFallback derives the VS from the document number
// when the text carries none.
func TestVariableSymbolFallback(t *testing.T) {
	doc := FromFields(types.KindInvoice, sampleFields(), "")
	assert.Equal(t, "20240123", doc.VariableSymbol)
}

func TestXMLShape(t *testing.T) {
	doc := FromFields(types.KindInvoice, sampleFields(), sampleText)
	out, err := doc.XML()
	require.NoError(t, err)

	var probe struct {
		Version      string `xml:"version,attr"`
		DocumentType int    `xml:"DocumentType"`
		ID           string `xml:"ID"`
		UUID         string `xml:"UUID"`
		Supplier     struct {
			Party struct {
				ICO struct {
					ID string `xml:"ID"`
				} `xml:"PartyIdentification"`
				Name struct {
					Name string `xml:"Name"`
				} `xml:"PartyName"`
				Tax struct {
					CompanyID string `xml:"CompanyID"`
				} `xml:"PartyTaxScheme"`
			} `xml:"Party"`
		} `xml:"AccountingSupplierParty"`
		Lines struct {
			Lines []struct {
				LineExtensionAmount string `xml:"LineExtensionAmount"`
			} `xml:"InvoiceLine"`
		} `xml:"InvoiceLines"`
		TaxTotal struct {
			TaxAmount string `xml:"TaxAmount"`
		} `xml:"TaxTotal"`
		Payment struct {
			Code    string `xml:"PaymentMeansCode"`
			DueDate string `xml:"PaymentDueDate"`
			Note    string `xml:"PaymentNote"`
			Account struct {
				ID string `xml:"ID"`
			} `xml:"PayeeFinancialAccount"`
		} `xml:"PaymentMeans"`
		Total struct {
			TaxExclusive string `xml:"TaxExclusiveAmount"`
			Payable      string `xml:"PayableAmount"`
		} `xml:"LegalMonetaryTotal"`
	}
	require.NoError(t, xml.Unmarshal(out, &probe))

	assert.Equal(t, Version, probe.Version)
	assert.Equal(t, 1, probe.DocumentType)
	assert.Equal(t, "2024-0123", probe.ID)
	assert.Len(t, probe.UUID, 36)
	assert.Equal(t, "12345678", probe.Supplier.Party.ICO.ID)
	assert.Equal(t, "Web Hosting", probe.Supplier.Party.Name.Name)
	assert.Equal(t, "CZ12345678", probe.Supplier.Party.Tax.CompanyID)
	require.Len(t, probe.Lines.Lines, 1)
	assert.Equal(t, "1000.00", probe.Lines.Lines[0].LineExtensionAmount)
	assert.Equal(t, "210.00", probe.TaxTotal.TaxAmount)
	assert.Equal(t, "42", probe.Payment.Code)
	assert.Equal(t, "2024-01-29", probe.Payment.DueDate)
	assert.Equal(t, "VS: 20240123", probe.Payment.Note)
	assert.Equal(t, "2000145399/0800", probe.Payment.Account.ID)
	assert.Equal(t, "1000.00", probe.Total.TaxExclusive)
	assert.Equal(t, "1210.00", probe.Total.Payable)

	assert.True(t, strings.Contains(string(out), Namespace))
}

// TestXMLDeterministic: re-emitting the same document must produce
// identical bytes, because delivery compares artifacts by hash.
func TestXMLDeterministic(t *testing.T) {
	doc := FromFields(types.KindInvoice, sampleFields(), sampleText)
	first, err := doc.XML()
	require.NoError(t, err)
	second, err := doc.XML()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTypeCodes(t *testing.T) {
	tests := []struct {
		kind types.DocumentKind
		code int
	}{
		{types.KindInvoice, 1},
		{types.KindCreditNote, 2},
		{types.KindProforma, 4},
		{types.KindDeliveryNote, 5},
		{types.KindOrder, 6},
		{types.KindReceipt, 1},
		{types.KindBankStatement, 1},
	}
	for _, tt := range tests {
		doc := &Document{Kind: tt.kind}
		assert.Equal(t, tt.code, doc.typeCode(), "kind %s", tt.kind)
	}
}

func TestLinesFromJSON(t *testing.T) {
	f := sampleFields()
	f[types.FieldPolozkyJSON] = `[{"popis":"Webhosting Premium","mnozstvi":1,"cena":"500.00"},` +
		`{"popis":"Doména .cz","mnozstvi":2,"cena":"125.00"}]`
	doc := FromFields(types.KindInvoice, f, sampleText)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "Webhosting Premium", doc.Lines[0].Description)
	assert.InDelta(t, 2.0, doc.Lines[1].Quantity, 0.001)
	assert.InDelta(t, 125.0, doc.Lines[1].UnitPrice, 0.001)

	out, err := doc.XML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "Doména .cz")
}

func TestEmptyAmountStillRenders(t *testing.T) {
	f := types.EmptyFields()
	f[types.FieldCisloDokumentu] = "X-1"
	doc := FromFields(types.KindReceipt, f, "")
	out, err := doc.XML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "<VATApplicable>false</VATApplicable>")
	assert.Contains(t, string(out), "<PayableAmount>0.00</PayableAmount>")
}
