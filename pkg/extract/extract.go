package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

// Label-anchored patterns. The label part may sit at a line end with
// the value on the next line, but a value never crosses lines, so one
// run-on row cannot swallow the rest of the page.
var (
	icoRe = regexp.MustCompile(`(?i)IČO?[:\s]*(\d{8})`)
	dicRe = regexp.MustCompile(`(?i)DIČ[:\s]*(CZ\d{8,10})`)

	amountRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)celkem\s*(?:k\s*úhradě)?[:\s]*([0-9 \t.,]+)\s*(?:Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)total\s*(?:amount)?[:\s]*([0-9 \t.,]+)\s*(?:Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)k\s*úhradě[:\s]*([0-9 \t.,]+)\s*(?:Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)částka[:\s]*([0-9 \t.,]+)\s*(?:Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)suma[:\s]*([0-9 \t.,]+)\s*(?:Kč|CZK|EUR|€|\$|USD)?`),
		regexp.MustCompile(`(?i)cena[:\s]*([0-9 \t.,]+)\s*(?:Kč|CZK|EUR|€|\$|USD)?`),
	}

	dateYMDRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	dateDMYRe = regexp.MustCompile(`(\d{1,2})[./](\d{1,2})[./](\d{4})`)
	dueDateRe = regexp.MustCompile(`(?i)(?:splatnost|due\s*date|fällig)[a-zí]*[:\s]*(\d{1,2})[./](\d{1,2})[./](\d{4})`)

	docNumberRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:faktura|invoice|doklad)\s*(?:č|číslo|nr?|number)?[.:\s#]*([A-Z0-9/-]+)`),
		regexp.MustCompile(`(?i)číslo\s*(?:faktury|dokladu)[:\s]*([A-Z0-9/-]+)`),
		regexp.MustCompile(`(?i)(?:invoice|rechnung)\s*(?:no|nr)?[.:\s#]*([A-Z0-9/-]+)`),
	}

	vsRe      = regexp.MustCompile(`(?i)(?:VS|var(?:iabilní)?\s*symbol)[.:\s]*(\d{4,10})`)
	ibanRe    = regexp.MustCompile(`\b([A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){3,7})\b`)
	accountRe = regexp.MustCompile(`\b(\d{0,6}-?\d{2,10})/(\d{4})\b`)

	supplierRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:dodavatel|supplier|verkäufer)[:\s]*([^\n]{3,60})`),
		regexp.MustCompile(`(?i)(?:vystavil|issued\s*by)[:\s]*([^\n]{3,60})`),
	}
	customerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:odběratel|customer|käufer)[:\s]*([^\n]{3,60})`),
		regexp.MustCompile(`(?i)(?:příjemce|recipient)[:\s]*([^\n]{3,60})`),
	}
	companyTailRe = regexp.MustCompile(`(?i)\s*(IČO?|DIČ|s\.r\.o\.|a\.s\.|spol\..*|, .*$)`)

	periodRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:období|period|za\s*měsíc)[:\s]*(\d{1,2})[./](\d{4})`),
		regexp.MustCompile(`(?i)(?:období|period)[:\s]*(\d{4})`),
		regexp.MustCompile(`\b(\d{1,2})/(\d{4})\b`),
	}

	itemRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*(.+?)\s+(\d+)\s*[xX×]?\s*([0-9,.]+)`)

	subjectRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:předmět|věc)[:\s]*([^\n]{10,100})`),
		regexp.MustCompile(`(?i)(?:subject|betreff)[:\s]*([^\n]{10,100})`),
	}

	plateRe  = regexp.MustCompile(`(?i)(?:SPZ|RZ)[.:\s]*([0-9A-Z]{2,3}\s?[0-9A-Z]{4,5})`)
	litersRe = regexp.MustCompile(`(\d+[.,]\d+)\s*l\b`)
)

// kindCategories label the downstream document category per kind.
// Unlisted kinds fall back to "ostatní".
var kindCategories = map[types.DocumentKind]string{
	types.KindInvoice:         "účetní",
	types.KindReceipt:         "účetní",
	types.KindProforma:        "účetní",
	types.KindCreditNote:      "účetní",
	types.KindPaymentDocument: "účetní",
	types.KindBankStatement:   "účetní",
	types.KindTaxDocument:     "daňové",
	types.KindContract:        "právní",
	types.KindOrder:           "obchodní",
	types.KindDeliveryNote:    "logistika",
	types.KindGasReceipt:      "doprava",
	types.KindCarService:      "doprava",
	types.KindCarWash:         "doprava",
	types.KindParkingTicket:   "doprava",
	types.KindGlassWork:       "služby",
	types.KindCorrespondence:  "korespondence",
	types.KindMarketing:       "marketing",
	types.KindITNotes:         "it",
}

// serviceTypes map a service category to the vocabulary that marks it.
// First category with a hit wins, in this order.
var serviceTypes = []struct {
	name     string
	keywords []string
}{
	{"hosting", []string{"hosting", "server", "cloud", "aws", "azure"}},
	{"telekomunikace", []string{"telefon", "mobile", "tarif", "internet", "wifi"}},
	{"software", []string{"licence", "software", "subscription", "saas"}},
	{"energie", []string{"elektřina", "plyn", "energie", "eon", "čez", "innogy"}},
	{"pojištění", []string{"pojištění", "insurance", "pojistka"}},
	{"účetnictví", []string{"účetní", "daňov", "audit"}},
	{"právní", []string{"advokát", "právní", "notář"}},
	{"doprava", []string{"doprava", "přeprava", "kurýr", "pošta"}},
	{"marketing", []string{"reklama", "marketing", "google ads", "facebook"}},
}

// serviceNameRes find the text following a service keyword, one
// compiled pattern per keyword.
var serviceNameRes = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp)
	for _, st := range serviceTypes {
		for _, kw := range st.keywords {
			m[kw] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(kw) + `[:\s]*([^\n,]{3,50})`)
		}
	}
	return m
}()

var keywordPairs = []struct{ display, substr string }{
	{"faktura", "faktur"},
	{"smlouva", "smlouv"},
	{"objednávka", "objednáv"},
	{"platba", "platb"},
	{"účet", "účet"},
	{"pojištění", "pojišt"},
	{"daň", "daň"},
	{"licence", "licenc"},
	{"služba", "služb"},
	{"zboží", "zboží"},
}

// Fields extracts the 31-field contract map from document text. All
// 31 keys are always present; unset values stay empty. Amounts come
// back as decimal strings and dates as YYYY-MM-DD, per the Artifact
// contract.
func Fields(text string, env *types.Envelope, kind types.DocumentKind) map[string]string {
	f := types.EmptyFields()
	lower := strings.ToLower(text)

	f[types.FieldDocTyp] = string(kind)
	f[types.FieldKategorie] = category(kind)

	extractCounterparty(text, lower, f)

	if amount, ok := amount(text); ok {
		f[types.FieldCastkaCelkem] = strconv.FormatFloat(amount, 'f', -1, 64)
	}
	f[types.FieldDatumDokumentu] = documentDate(text)
	f[types.FieldCisloDokumentu] = documentNumber(text)
	f[types.FieldMena] = currency(text, lower)
	f[types.FieldStavPlatby] = paymentStatus(lower)
	f[types.FieldDatumSplatnosti] = dueDate(text)

	if env != nil {
		f[types.FieldEmailFrom] = env.From
		f[types.FieldEmailTo] = env.To
		f[types.FieldEmailSubject] = env.Subject
		f[types.FieldPredmet] = truncate(env.Subject, 200)
		f[types.FieldOdOsoba] = displayName(env.From)
		f[types.FieldProOsoba] = displayName(env.To)
	}

	for _, re := range supplierRes {
		if m := re.FindStringSubmatch(text); m != nil {
			f[types.FieldOdFirma] = truncate(strings.TrimSpace(m[1]), 100)
			break
		}
	}
	for _, re := range customerRes {
		if m := re.FindStringSubmatch(text); m != nil {
			f[types.FieldProFirma] = truncate(strings.TrimSpace(m[1]), 100)
			break
		}
	}

	f[types.FieldAIKeywords] = keywords(lower)
	f[types.FieldAISummary] = summary(text)

	serviceType, serviceName := service(lower)
	f[types.FieldTypSluzby] = serviceType
	f[types.FieldNazevSluzby] = serviceName

	subjectType, subjectName := subject(text, kind)
	f[types.FieldPredmetTyp] = subjectType
	f[types.FieldPredmetNazev] = subjectName

	itemsText, itemsJSON := items(text)
	f[types.FieldPolozkyText] = itemsText
	f[types.FieldPolozkyJSON] = itemsJSON

	f[types.FieldPerioda] = period(text)

	return f
}

// BankDetails carries the payment routing the structured emitter
// needs; none of it belongs to the 31-field contract.
type BankDetails struct {
	IBAN           string
	Account        string
	BankCode       string
	VariableSymbol string
}

// Banking extracts bank routing details from document text.
func Banking(text string) BankDetails {
	var d BankDetails
	if m := ibanRe.FindStringSubmatch(text); m != nil {
		d.IBAN = strings.ReplaceAll(m[1], " ", "")
	}
	if m := accountRe.FindStringSubmatch(text); m != nil {
		d.Account = m[1]
		d.BankCode = m[2]
	}
	if m := vsRe.FindStringSubmatch(text); m != nil {
		d.VariableSymbol = m[1]
	}
	return d
}

// TaxID extracts the counterparty DIČ, empty when absent.
func TaxID(text string) string {
	if m := dicRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func category(kind types.DocumentKind) string {
	if c, ok := kindCategories[kind]; ok {
		return c
	}
	return "ostatní"
}

func extractCounterparty(text, lower string, f map[string]string) {
	if m := icoRe.FindStringSubmatch(text); m != nil {
		f[types.FieldProtistranaICO] = m[1]
	}

	for _, re := range supplierRes {
		if m := re.FindStringSubmatch(text); m != nil {
			name := companyTailRe.ReplaceAllString(strings.TrimSpace(m[1]), "")
			f[types.FieldProtistranaNazev] = truncate(strings.TrimSpace(name), 100)
			break
		}
	}

	if f[types.FieldProtistranaICO] != "" {
		if strings.Contains(lower, "osvč") || strings.Contains(lower, "živnost") {
			f[types.FieldProtistranaTyp] = "OSVČ"
		} else {
			f[types.FieldProtistranaTyp] = "firma"
		}
	}
}

func amount(text string) (float64, bool) {
	for _, re := range amountRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, ok := parseAmount(m[1]); ok {
			return v, true
		}
	}
	return 0, false
}

// parseAmount normalizes Czech number formatting: thin or regular
// spaces as thousands separators, comma as the decimal mark.
func parseAmount(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ',' || r == '.':
			b.WriteRune('.')
		}
	}
	cleaned := strings.TrimRight(b.String(), ".")
	if cleaned == "" {
		return 0, false
	}
	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func documentDate(text string) string {
	if m := dateYMDRe.FindStringSubmatch(text); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	if m := dateDMYRe.FindStringSubmatch(text); m != nil {
		return m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1])
	}
	return ""
}

func dueDate(text string) string {
	if m := dueDateRe.FindStringSubmatch(text); m != nil {
		return m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1])
	}
	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func documentNumber(text string) string {
	for _, re := range docNumberRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		num := strings.TrimSpace(m[1])
		if len(num) >= 3 && len(num) <= 30 {
			return num
		}
	}
	return ""
}

func currency(text, lower string) string {
	switch {
	case strings.Contains(lower, "czk") || strings.Contains(lower, "kč"):
		return "CZK"
	case strings.Contains(lower, "eur") || strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(lower, "usd") || strings.Contains(text, "$"):
		return "USD"
	case strings.Contains(lower, "gbp") || strings.Contains(text, "£"):
		return "GBP"
	}
	return ""
}

func paymentStatus(lower string) string {
	for _, p := range []string{"zaplaceno", "paid", "bezahlt", "uhrazeno"} {
		if strings.Contains(lower, p) {
			return "zaplaceno"
		}
	}
	for _, p := range []string{"nezaplaceno", "unpaid", "k úhradě", "splatno"} {
		if strings.Contains(lower, p) {
			return "nezaplaceno"
		}
	}
	return ""
}

// displayName pulls the display-name part out of a "Name <addr>"
// header, empty when the header is a bare address.
func displayName(header string) string {
	idx := strings.Index(header, "<")
	if idx < 0 {
		return ""
	}
	name := strings.TrimSpace(header[:idx])
	name = strings.Trim(name, `"'`)
	return name
}

func keywords(lower string) string {
	var found []string
	for _, kp := range keywordPairs {
		if strings.Contains(lower, kp.substr) {
			found = append(found, kp.display)
		}
	}
	return strings.Join(found, ", ")
}

// summary returns the first content line of reasonable length,
// skipping anything that looks like a forwarded header block.
func summary(text string) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if len(l) > 20 {
			lines = append(lines, l)
		}
		if len(lines) == 5 {
			break
		}
	}
	for _, l := range lines {
		lower := strings.ToLower(l)
		if strings.Contains(lower, "from:") || strings.Contains(lower, "to:") ||
			strings.Contains(lower, "date:") || strings.Contains(lower, "subject:") ||
			strings.Contains(lower, "---") {
			continue
		}
		if len(l) > 30 {
			return truncate(l, 200)
		}
	}
	return ""
}

func service(lower string) (string, string) {
	for _, st := range serviceTypes {
		for _, kw := range st.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			name := ""
			if m := serviceNameRes[kw].FindStringSubmatch(lower); m != nil {
				name = strings.TrimSpace(m[1])
			}
			return st.name, name
		}
	}
	return "", ""
}

func subject(text string, kind types.DocumentKind) (string, string) {
	subjectType := ""
	switch kind {
	case types.KindInvoice:
		subjectType = "fakturace"
	case types.KindContract:
		subjectType = "smlouva"
	case types.KindOrder:
		subjectType = "objednávka"
	case types.KindCarService, types.KindCarWash:
		subjectType = "vozidlo"
		if m := plateRe.FindStringSubmatch(text); m != nil {
			return subjectType, strings.ToUpper(m[1])
		}
	case types.KindGasReceipt:
		subjectType = "palivo"
		if m := litersRe.FindStringSubmatch(text); m != nil {
			return subjectType, strings.Replace(m[1], ",", ".", 1) + " l"
		}
	}

	for _, re := range subjectRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return subjectType, truncate(strings.TrimSpace(m[1]), 100)
		}
	}
	return subjectType, ""
}

type lineItem struct {
	Popis    string `json:"popis"`
	Mnozstvi int    `json:"mnozstvi"`
	Cena     string `json:"cena"`
}

func items(text string) (string, string) {
	var parsed []lineItem
	for _, m := range itemRe.FindAllStringSubmatch(text, 20) {
		qty, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		parsed = append(parsed, lineItem{
			Popis:    truncate(strings.TrimSpace(m[1]), 100),
			Mnozstvi: qty,
			Cena:     strings.Replace(m[3], ",", ".", 1),
		})
	}
	if len(parsed) == 0 {
		return "", ""
	}

	var texts []string
	for i, it := range parsed {
		if i == 10 {
			break
		}
		texts = append(texts, it.Popis+" ("+strconv.Itoa(it.Mnozstvi)+"x "+it.Cena+")")
	}
	encoded, err := json.Marshal(parsed)
	if err != nil {
		return strings.Join(texts, "; "), ""
	}
	return strings.Join(texts, "; "), string(encoded)
}

func period(text string) string {
	for _, re := range periodRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) == 3 {
			return m[1] + "/" + m[2]
		}
		return m[1]
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
