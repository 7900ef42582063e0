package types

// DocumentKind is the closed tag set describing what a document is.
// The kind decides which extractors apply, whether a structured XML
// payload is emitted, and the downstream document-type label.
type DocumentKind string

const (
	KindInvoice            DocumentKind = "invoice"
	KindReceipt            DocumentKind = "receipt"
	KindTaxDocument        DocumentKind = "tax_document"
	KindBankStatement      DocumentKind = "bank_statement"
	KindOrder              DocumentKind = "order"
	KindContract           DocumentKind = "contract"
	KindParkingTicket      DocumentKind = "parking_ticket"
	KindCarService         DocumentKind = "car_service"
	KindCarWash            DocumentKind = "car_wash"
	KindGlassWork          DocumentKind = "glass_work"
	KindProforma           DocumentKind = "proforma"
	KindDeliveryNote       DocumentKind = "delivery_note"
	KindPaymentDocument    DocumentKind = "payment_document"
	KindCreditNote         DocumentKind = "credit_note"
	KindGasReceipt         DocumentKind = "gas_receipt"
	KindSystemNotification DocumentKind = "system_notification"
	KindMarketing          DocumentKind = "marketing"
	KindCorrespondence     DocumentKind = "correspondence"
	KindITNotes            DocumentKind = "it_notes"
	KindProjectNotes       DocumentKind = "project_notes"
	KindUnknown            DocumentKind = "unknown"
)

// AllKinds lists every member of the closed set, in precedence-neutral
// declaration order.
var AllKinds = []DocumentKind{
	KindInvoice, KindReceipt, KindTaxDocument, KindBankStatement,
	KindOrder, KindContract, KindParkingTicket, KindCarService,
	KindCarWash, KindGlassWork, KindProforma, KindDeliveryNote,
	KindPaymentDocument, KindCreditNote, KindGasReceipt,
	KindSystemNotification, KindMarketing, KindCorrespondence,
	KindITNotes, KindProjectNotes, KindUnknown,
}

// accountingKinds gate the structured-document emitter.
var accountingKinds = map[DocumentKind]bool{
	KindInvoice:       true,
	KindReceipt:       true,
	KindTaxDocument:   true,
	KindBankStatement: true,
}

// Valid reports whether k is a member of the closed set.
func (k DocumentKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Accounting reports whether documents of this kind get an ISDOC payload.
func (k DocumentKind) Accounting() bool {
	return accountingKinds[k]
}

// kindDisplayNames are the Czech document-type labels used on the
// downstream service.
var kindDisplayNames = map[DocumentKind]string{
	KindInvoice:            "Faktura",
	KindReceipt:            "Účtenka",
	KindTaxDocument:        "Daňový doklad",
	KindBankStatement:      "Bankovní výpis",
	KindOrder:              "Objednávka",
	KindContract:           "Smlouva",
	KindParkingTicket:      "Parkovací lístek",
	KindCarService:         "Autoservis",
	KindCarWash:            "Mytí vozidla",
	KindGlassWork:          "Sklenářské práce",
	KindProforma:           "Proforma faktura",
	KindDeliveryNote:       "Dodací list",
	KindPaymentDocument:    "Platební doklad",
	KindCreditNote:         "Dobropis",
	KindGasReceipt:         "Účtenka za palivo",
	KindSystemNotification: "Systémová notifikace",
	KindMarketing:          "Marketing",
	KindCorrespondence:     "Korespondence",
	KindITNotes:            "IT poznámky",
	KindProjectNotes:       "Projektové poznámky",
}

// DisplayName returns the downstream document-type label for the kind.
// Unknown and unmapped kinds fall back to "Ostatní".
func (k DocumentKind) DisplayName() string {
	if name, ok := kindDisplayNames[k]; ok {
		return name
	}
	return "Ostatní"
}
