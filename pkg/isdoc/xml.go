package isdoc

import "encoding/xml"

// Marshaling shapes. Field order is element order, which the ISDOC
// schema fixes.

type invoiceXML struct {
	XMLName xml.Name `xml:"Invoice"`
	Xmlns   string   `xml:"xmlns,attr"`
	Version string   `xml:"version,attr"`

	DocumentType      int    `xml:"DocumentType"`
	ID                string `xml:"ID"`
	UUID              string `xml:"UUID"`
	IssueDate         string `xml:"IssueDate"`
	VATApplicable     string `xml:"VATApplicable"`
	LocalCurrencyCode string `xml:"LocalCurrencyCode"`
	CurrRateRef       string `xml:"CurrRateRef"`
	Note              string `xml:"Note,omitempty"`

	Supplier *partyWrapXML `xml:"AccountingSupplierParty,omitempty"`
	Customer *partyWrapXML `xml:"AccountingCustomerParty,omitempty"`

	Lines        invoiceLinesXML       `xml:"InvoiceLines"`
	TaxTotal     taxTotalXML           `xml:"TaxTotal"`
	PaymentMeans *paymentMeansXML      `xml:"PaymentMeans,omitempty"`
	Total        legalMonetaryTotalXML `xml:"LegalMonetaryTotal"`
}

type partyWrapXML struct {
	Party partyXML `xml:"Party"`
}

type partyXML struct {
	Identification identificationXML  `xml:"PartyIdentification"`
	Name           nameXML            `xml:"PartyName"`
	TaxScheme      *partyTaxSchemeXML `xml:"PartyTaxScheme,omitempty"`
}

type identificationXML struct {
	ID string `xml:"ID"`
}

type nameXML struct {
	Name string `xml:"Name"`
}

type partyTaxSchemeXML struct {
	CompanyID string       `xml:"CompanyID"`
	TaxScheme taxSchemeXML `xml:"TaxScheme"`
}

type taxSchemeXML struct {
	Name string `xml:"Name"`
}

type invoiceLinesXML struct {
	Lines []invoiceLineXML `xml:"InvoiceLine"`
}

type invoiceLineXML struct {
	ID                       string           `xml:"ID"`
	InvoicedQuantity         quantityXML      `xml:"InvoicedQuantity"`
	LineExtensionAmount      string           `xml:"LineExtensionAmount"`
	LineExtensionAmountTaxIn string           `xml:"LineExtensionAmountTaxInclusive"`
	LineExtensionTaxAmount   string           `xml:"LineExtensionTaxAmount"`
	UnitPrice                string           `xml:"UnitPrice"`
	UnitPriceTaxInclusive    string           `xml:"UnitPriceTaxInclusive"`
	TaxCategory              classifiedTaxXML `xml:"ClassifiedTaxCategory"`
	Item                     itemXML          `xml:"Item"`
}

type quantityXML struct {
	UnitCode string `xml:"unitCode,attr"`
	Value    string `xml:",chardata"`
}

type classifiedTaxXML struct {
	Percent              string `xml:"Percent"`
	VATCalculationMethod string `xml:"VATCalculationMethod"`
}

type itemXML struct {
	Description string `xml:"Description"`
}

type taxTotalXML struct {
	SubTotals []*taxSubTotalXML `xml:"TaxSubTotal"`
	TaxAmount string            `xml:"TaxAmount"`
}

type taxSubTotalXML struct {
	TaxableAmount               string         `xml:"TaxableAmount"`
	TaxAmount                   string         `xml:"TaxAmount"`
	AlreadyClaimedTaxableAmount string         `xml:"AlreadyClaimedTaxableAmount"`
	AlreadyClaimedTaxAmount     string         `xml:"AlreadyClaimedTaxAmount"`
	DifferenceTaxableAmount     string         `xml:"DifferenceTaxableAmount"`
	DifferenceTaxAmount         string         `xml:"DifferenceTaxAmount"`
	TaxCategory                 taxCategoryXML `xml:"TaxCategory"`

	base float64
	vat  float64
}

type taxCategoryXML struct {
	Percent string `xml:"Percent"`
}

type paymentMeansXML struct {
	PaymentMeansCode string               `xml:"PaymentMeansCode"`
	PaymentDueDate   string               `xml:"PaymentDueDate,omitempty"`
	Account          *financialAccountXML `xml:"PayeeFinancialAccount,omitempty"`
	PaymentNote      string               `xml:"PaymentNote,omitempty"`
}

type financialAccountXML struct {
	ID   string `xml:"ID,omitempty"`
	IBAN string `xml:"IBAN,omitempty"`
}

type legalMonetaryTotalXML struct {
	TaxExclusiveAmount               string `xml:"TaxExclusiveAmount"`
	TaxInclusiveAmount               string `xml:"TaxInclusiveAmount"`
	AlreadyClaimedTaxExclusiveAmount string `xml:"AlreadyClaimedTaxExclusiveAmount"`
	AlreadyClaimedTaxInclusiveAmount string `xml:"AlreadyClaimedTaxInclusiveAmount"`
	DifferenceTaxExclusiveAmount     string `xml:"DifferenceTaxExclusiveAmount"`
	DifferenceTaxInclusiveAmount     string `xml:"DifferenceTaxInclusiveAmount"`
	PayableRoundingAmount            string `xml:"PayableRoundingAmount"`
	PaidDepositsAmount               string `xml:"PaidDepositsAmount"`
	PayableAmount                    string `xml:"PayableAmount"`
}
