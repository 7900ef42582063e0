package isdoc

import (
	"crypto/md5"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mailsift/mailsift/pkg/extract"
	"github.com/mailsift/mailsift/pkg/types"
)

const (
	// Namespace is the ISDOC 2013 namespace shared by all versions.
	Namespace = "http://isdoc.cz/namespace/2013"
	// Version of the ISDOC shape this emitter produces.
	Version = "6.0.2"

	standardVATRate = 21
)

// Document type codes per the ISDOC enumeration.
const (
	codeInvoice      = 1
	codeCreditNote   = 2
	codeDebitNote    = 3
	codeProforma     = 4
	codeDeliveryNote = 5
	codeOrder        = 6
)

var kindCodes = map[types.DocumentKind]int{
	types.KindInvoice:      codeInvoice,
	types.KindCreditNote:   codeCreditNote,
	types.KindProforma:     codeProforma,
	types.KindDeliveryNote: codeDeliveryNote,
	types.KindOrder:        codeOrder,
}

// Party identifies one side of the document.
type Party struct {
	Name string
	ICO  string
	DIC  string
}

// Line is one priced row. UnitPrice excludes VAT.
type Line struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	VATRate     int
}

// Document is the emitter's input, assembled from the field contract
// with raw-text fallbacks for what the contract does not carry.
type Document struct {
	Kind           types.DocumentKind
	Number         string
	IssueDate      string
	DueDate        string
	Currency       string
	Supplier       Party
	Customer       Party
	TotalGross     float64
	Lines          []Line
	BankAccount    string
	IBAN           string
	VariableSymbol string
	Note           string
}

// FromFields builds a Document from the 31-field contract map,
// falling back to the raw text for bank routing, the supplier DIČ and
// line items. Structured field values always win over text guesses.
func FromFields(kind types.DocumentKind, fields map[string]string, text string) *Document {
	doc := &Document{
		Kind:      kind,
		Number:    fields[types.FieldCisloDokumentu],
		IssueDate: fields[types.FieldDatumDokumentu],
		DueDate:   fields[types.FieldDatumSplatnosti],
		Currency:  fields[types.FieldMena],
		Supplier: Party{
			Name: fields[types.FieldProtistranaNazev],
			ICO:  fields[types.FieldProtistranaICO],
			DIC:  extract.TaxID(text),
		},
	}
	if doc.Supplier.Name == "" {
		doc.Supplier.Name = fields[types.FieldOdFirma]
	}
	if doc.Currency == "" {
		doc.Currency = "CZK"
	}
	if doc.IssueDate == "" {
		doc.IssueDate = time.Now().Format("2006-01-02")
	}

	if v := fields[types.FieldCastkaCelkem]; v != "" {
		if total, err := strconv.ParseFloat(v, 64); err == nil {
			doc.TotalGross = total
		}
	}

	bank := extract.Banking(text)
	doc.IBAN = bank.IBAN
	doc.VariableSymbol = bank.VariableSymbol
	if bank.Account != "" {
		doc.BankAccount = bank.Account + "/" + bank.BankCode
	}
	if doc.VariableSymbol == "" && doc.Number != "" {
		doc.VariableSymbol = digitsOnly(doc.Number, 10)
	}

	doc.Lines = linesFromJSON(fields[types.FieldPolozkyJSON])
	return doc
}

// linesFromJSON decodes the polozky_json rows. Row prices are treated
// as VAT-exclusive unit prices at the standard rate.
func linesFromJSON(encoded string) []Line {
	if encoded == "" {
		return nil
	}
	var rows []struct {
		Popis    string `json:"popis"`
		Mnozstvi int    `json:"mnozstvi"`
		Cena     string `json:"cena"`
	}
	if err := json.Unmarshal([]byte(encoded), &rows); err != nil {
		return nil
	}
	lines := make([]Line, 0, len(rows))
	for _, r := range rows {
		price, err := strconv.ParseFloat(r.Cena, 64)
		if err != nil {
			continue
		}
		qty := r.Mnozstvi
		if qty <= 0 {
			qty = 1
		}
		lines = append(lines, Line{
			Description: r.Popis,
			Quantity:    float64(qty),
			UnitPrice:   price,
			VATRate:     standardVATRate,
		})
	}
	return lines
}

// XML renders the document as ISDOC-shaped XML with the standard
// declaration header.
func (d *Document) XML() ([]byte, error) {
	inv := d.build()
	body, err := xml.MarshalIndent(inv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal isdoc document: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func (d *Document) build() *invoiceXML {
	totalVAT := round2(d.TotalGross * standardVATRate / (100 + standardVATRate))
	totalNet := round2(d.TotalGross - totalVAT)

	lines := d.Lines
	if len(lines) == 0 {
		desc := d.Note
		if desc == "" {
			desc = "Položka dokladu"
		}
		lines = []Line{{Description: desc, Quantity: 1, UnitPrice: totalNet, VATRate: standardVATRate}}
	}

	inv := &invoiceXML{
		Xmlns:             Namespace,
		Version:           Version,
		DocumentType:      d.typeCode(),
		ID:                d.Number,
		UUID:              d.uuid(),
		IssueDate:         d.IssueDate,
		VATApplicable:     boolString(totalVAT > 0),
		LocalCurrencyCode: d.Currency,
		CurrRateRef:       "1",
		Note:              d.Note,
	}
	if inv.ID == "" {
		inv.ID = inv.UUID
	}

	if d.Supplier.Name != "" || d.Supplier.ICO != "" {
		inv.Supplier = &partyWrapXML{Party: partyXML{
			Identification: identificationXML{ID: d.Supplier.ICO},
			Name:           nameXML{Name: d.Supplier.Name},
			TaxScheme:      taxSchemeFor(d.Supplier.DIC),
		}}
	}
	if d.Customer.Name != "" || d.Customer.ICO != "" {
		inv.Customer = &partyWrapXML{Party: partyXML{
			Identification: identificationXML{ID: d.Customer.ICO},
			Name:           nameXML{Name: d.Customer.Name},
			TaxScheme:      taxSchemeFor(d.Customer.DIC),
		}}
	}

	byRate := map[int]*taxSubTotalXML{}
	for i, line := range lines {
		net := round2(line.Quantity * line.UnitPrice)
		vat := round2(net * float64(line.VATRate) / 100)
		inv.Lines.Lines = append(inv.Lines.Lines, invoiceLineXML{
			ID:                       strconv.Itoa(i + 1),
			InvoicedQuantity:         quantityXML{UnitCode: "C62", Value: formatQty(line.Quantity)},
			LineExtensionAmount:      amount(net),
			LineExtensionAmountTaxIn: amount(net + vat),
			LineExtensionTaxAmount:   amount(vat),
			UnitPrice:                amount(line.UnitPrice),
			UnitPriceTaxInclusive:    amount(line.UnitPrice * (1 + float64(line.VATRate)/100)),
			TaxCategory: classifiedTaxXML{
				Percent:              strconv.Itoa(line.VATRate),
				VATCalculationMethod: "0",
			},
			Item: itemXML{Description: line.Description},
		})
		st, ok := byRate[line.VATRate]
		if !ok {
			st = &taxSubTotalXML{TaxCategory: taxCategoryXML{Percent: strconv.Itoa(line.VATRate)}}
			byRate[line.VATRate] = st
			inv.TaxTotal.SubTotals = append(inv.TaxTotal.SubTotals, st)
		}
		st.base += net
		st.vat += vat
	}
	for _, st := range inv.TaxTotal.SubTotals {
		st.TaxableAmount = amount(st.base)
		st.TaxAmount = amount(st.vat)
		st.AlreadyClaimedTaxableAmount = "0.00"
		st.AlreadyClaimedTaxAmount = "0.00"
		st.DifferenceTaxableAmount = amount(st.base)
		st.DifferenceTaxAmount = amount(st.vat)
	}
	inv.TaxTotal.TaxAmount = amount(totalVAT)

	payment := &paymentMeansXML{PaymentMeansCode: "42", PaymentDueDate: d.DueDate}
	if d.BankAccount != "" || d.IBAN != "" {
		payment.Account = &financialAccountXML{ID: d.BankAccount, IBAN: d.IBAN}
	}
	if d.VariableSymbol != "" {
		payment.PaymentNote = "VS: " + d.VariableSymbol
	}
	inv.PaymentMeans = payment

	inv.Total = legalMonetaryTotalXML{
		TaxExclusiveAmount:                amount(totalNet),
		TaxInclusiveAmount:                amount(d.TotalGross),
		AlreadyClaimedTaxExclusiveAmount:  "0.00",
		AlreadyClaimedTaxInclusiveAmount:  "0.00",
		DifferenceTaxExclusiveAmount:      amount(totalNet),
		DifferenceTaxInclusiveAmount:      amount(d.TotalGross),
		PayableRoundingAmount:             "0.00",
		PaidDepositsAmount:                "0.00",
		PayableAmount:                     amount(d.TotalGross),
	}
	return inv
}

func (d *Document) typeCode() int {
	if code, ok := kindCodes[d.Kind]; ok {
		return code
	}
	return codeInvoice
}

// uuid derives a stable identifier from the document identity, so a
// re-emitted item produces byte-identical XML.
func (d *Document) uuid() string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%.2f", d.Number, d.IssueDate, d.TotalGross)))
	hex := fmt.Sprintf("%x", sum)
	return fmt.Sprintf("%s-%s-%s-%s-%s", hex[:8], hex[8:12], hex[12:16], hex[16:20], hex[20:32])
}

func taxSchemeFor(dic string) *partyTaxSchemeXML {
	if dic == "" {
		return nil
	}
	return &partyTaxSchemeXML{CompanyID: dic, TaxScheme: taxSchemeXML{Name: "VAT"}}
}

func amount(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}

func formatQty(q float64) string {
	if q == math.Trunc(q) {
		return strconv.FormatFloat(q, 'f', 0, 64)
	}
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func digitsOnly(s string, max int) string {
	out := make([]byte, 0, max)
	for i := 0; i < len(s) && len(out) < max; i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
