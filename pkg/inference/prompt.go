package inference

import (
	"fmt"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

// promptBodyLimit caps how much body text goes into the prompt so small
// models keep the instructions in context.
const promptBodyLimit = 3000

const classifyPromptTemplate = `Analyzuj tento email a extrahuj strukturované informace.

EMAIL:
Od: %s
Komu: %s
Předmět: %s
Datum: %s

OBSAH:
%s

Odpověz POUZE validním JSON (bez markdown) s těmito poli:
{
  "doc_typ": "%s",
  "protistrana_nazev": "název firmy/odesílatele",
  "protistrana_ico": "IČO pokud je uvedeno",
  "protistrana_typ": "firma|osvc|fo",
  "castka_celkem": 0.0,
  "datum_dokumentu": "YYYY-MM-DD",
  "cislo_dokumentu": "číslo dokumentu",
  "mena": "CZK|EUR|USD",
  "stav_platby": "zaplaceno|nezaplaceno|castecne|neznamy",
  "datum_splatnosti": "YYYY-MM-DD",
  "kategorie": "energie|telekomunikace|nakupy|cestovani|smlouvy|korespondence|reklama|jine",
  "od_osoba": "jméno odesílatele",
  "od_osoba_role": "role/pozice",
  "od_firma": "firma odesílatele",
  "pro_osoba": "jméno příjemce",
  "pro_osoba_role": "role příjemce",
  "pro_firma": "firma příjemce",
  "predmet": "stručný popis o čem dokument je",
  "ai_summary": "AI souhrn max 100 slov",
  "ai_keywords": "klíčová slova oddělená čárkou",
  "ai_popis": "podrobnější AI popis obsahu",
  "typ_sluzby": "typ služby pokud je",
  "nazev_sluzby": "název služby",
  "predmet_typ": "typ předmětu",
  "predmet_nazev": "název předmětu",
  "polozky_text": "položky jako text",
  "perioda": "období dokumentu"
}`

// ClassifyPrompt renders the Czech extraction prompt for one message.
// The kinds parameter narrows the doc_typ enumeration the model may
// answer with; pass nil for the full set. "other" is always allowed so
// a model is never forced to invent a business kind.
func ClassifyPrompt(env *types.Envelope, kinds []types.DocumentKind) string {
	if len(kinds) == 0 {
		kinds = defaultPromptKinds
	}
	hints := make([]string, 0, len(kinds)+1)
	for _, k := range kinds {
		hints = append(hints, string(k))
	}
	hints = append(hints, "other")

	date := ""
	if !env.Date.IsZero() {
		date = env.Date.Format("2006-01-02")
	}

	body := env.Body
	if runes := []rune(body); len(runes) > promptBodyLimit {
		body = string(runes[:promptBodyLimit])
	}

	return fmt.Sprintf(classifyPromptTemplate,
		env.From, env.To, env.Subject, date, body,
		strings.Join(hints, "|"))
}

// defaultPromptKinds is the doc_typ enumeration offered when the caller
// has no narrower hint. Notification traffic is filtered before any
// model call, so that kind is not offered.
var defaultPromptKinds = []types.DocumentKind{
	types.KindInvoice,
	types.KindProforma,
	types.KindCreditNote,
	types.KindReceipt,
	types.KindGasReceipt,
	types.KindTaxDocument,
	types.KindBankStatement,
	types.KindOrder,
	types.KindContract,
	types.KindDeliveryNote,
	types.KindPaymentDocument,
	types.KindParkingTicket,
	types.KindCarService,
	types.KindCarWash,
	types.KindGlassWork,
	types.KindMarketing,
	types.KindCorrespondence,
}
