package classify

import (
	"regexp"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

// DefaultRules returns the built-in rule table. Rules for narrow kinds
// (proforma, credit_note, gas_receipt) carry higher priority than the
// generic invoice rule because their keywords are strict supersets of
// the invoice vocabulary; evaluating them first keeps "ZÁLOHOVÁ
// FAKTURA" out of the invoice bucket.
func DefaultRules() []Rule {
	return []Rule{
		{
			Kind:      types.KindProforma,
			Priority:  120,
			BaseScore: 90,
			Keywords:  []string{`\bPROFORMA\b`, `zálohová\s+faktura`, `proforma\s+invoice`},
			Required:  []string{`IČO|IČ`, `DIČ|IČ\s*DPH`},
			Bonus:     []string{`záloha`, `platba\s+předem`, `advance\s+payment`},
		},
		{
			Kind:      types.KindCreditNote,
			Priority:  118,
			BaseScore: 85,
			Keywords:  []string{`\bDOBROPIS\b`, `credit\s+note`, `\bGUTSCHRIFT\b`, `opravný\s+daňový\s+doklad`},
			Required:  []string{`IČO|IČ`, `DIČ|IČ\s*DPH`},
			Bonus:     []string{`k\s+faktuře\s+č\.`, `storno`, `korekce`},
		},
		{
			Kind:      types.KindGasReceipt,
			Priority:  116,
			BaseScore: 90,
			Keywords: []string{
				`\bBENZÍN\b`, `\bNAFTA\b`, `\bPETROL\b`, `\bDIESEL\b`,
				`natural\s+9[58]`, `\bLPG\b`, `\bCNG\b`,
				`čerpací\s+stanice`, `benzinová\s+pumpa`,
				`\bOMV\b`, `\bSHELL\b`, `\bBENZINA\b`,
			},
			Required: []string{`\d+[.,]\d+\s*l\b`, `\d+[.,]\d+\s*Kč`},
			Bonus:    []string{`litr`, `cena\s+za\s+litr`, `výdej\s+PHM`, `prodej\s+PHM`},
		},
		{
			Kind:      types.KindCarWash,
			Priority:  114,
			BaseScore: 85,
			Keywords:  []string{`\bMYTÍ`, `car\s+wash`, `\bWASCH\b`, `čištění\s+vozu`, `čistírna`, `mytí\s+vozidla`},
			Required:  []string{`\d+[.,]\d+\s*Kč`},
			Bonus:     []string{`exteriér`, `interiér`, `kompletní\s+mytí`, `program`},
		},
		{
			Kind:      types.KindCarService,
			Priority:  112,
			BaseScore: 85,
			Keywords: []string{
				`\bSERVIS\b`, `\bOPRAVA\b`, `ÚDRŽBA`, `\bSERVICE\b`,
				`výměna\s+oleje`, `pneuservis`, `autoopravna`, `autoservis`,
				`výměna\s+kol`, `pneumatik`,
			},
			Required: []string{`IČO|IČ`, `\d+[.,]\d+\s*Kč`},
			Bonus:    []string{`\bSPZ\b`, `\bVIN\b`, `stav\s+tachometru`, `značka\s+vozu`},
		},
		{
			Kind:      types.KindGlassWork,
			Priority:  110,
			BaseScore: 85,
			Keywords:  []string{`\bSKLENÁŘSTVÍ`, `\bSKLO\b`, `\bGLAS\b`, `\bGLASS\b`, `zasklení`, `skleněn`, `výroba\s+skel`},
			Required:  []string{`IČO|IČ`, `\d+[.,]\d+\s*Kč`},
			Bonus:     []string{`\bmm\b`, `tloušťka`, `rozměr`, `\bm2\b`},
		},
		{
			Kind:      types.KindTaxDocument,
			Priority:  108,
			BaseScore: 90,
			Keywords: []string{
				`daňov[ée]\s+přiznání`, `tax\s+return`, `kontrolní\s+hlášení`,
				`přiznání\s+k\s+dani`, `souhrnné\s+hlášení`,
			},
			Bonus: []string{`finanční\s+úřad`, `zdaňovací\s+období`, `datová\s+schránka`},
		},
		{
			Kind:      types.KindParkingTicket,
			Priority:  106,
			BaseScore: 85,
			Keywords: []string{
				`\bPARKOVNÉ`, `parking\s+ticket`, `\bPARKEN\b`,
				`parkovací\s+lístek`, `parkoviště`, `parkovací\s+automat`, `parkovací\s+zóna`,
			},
			Required: []string{`vjezd|výjezd|doba\s+parkování`, `\d{2}:\d{2}`},
			Bonus:    []string{`\bSPZ\b`, `\bRZ\b`, `zóna`, `automat`, `zaplaceno`},
			Negative: []string{
				`PLNÁ\s+MOC`, `\bZMOCNĚNÍ`, `\bINVOICE\b`, `\bFAKTURA\b`,
				`\bHOTEL\b`, `accommodation`, `room\s+no`,
			},
		},
		{
			Kind:      types.KindBankStatement,
			Priority:  104,
			BaseScore: 95,
			Keywords: []string{
				`výpis\s+z\s+účtu`, `bank\s+statement`, `kontoauszug`,
				`zůstatek\s+na\s+účtu`, `počáteční\s+stav`, `konečný\s+stav`,
				`příchozí\s+platby`, `odchozí\s+platby`,
			},
			Required: []string{`číslo\s+účtu|account\s+number`, `\d{10}/\d{4}`},
			Bonus:    []string{`\bIBAN\b`, `majitel\s+účtu`, `období\s+výpisu`, `variabilní\s+symbol`},
		},
		{
			Kind:      types.KindInvoice,
			Priority:  100,
			BaseScore: 100,
			Keywords: []string{
				`\bFAKTURA\b`, `faktur[ay]`, `\bINVOICE\b`, `\bFACTUUR\b`, `\bRECHNUNG\b`,
				`daňový\s+doklad`, `variabilní\s+symbol`, `číslo\s+faktury`, `fakturujeme`,
				`\bFOLIO\b`, `guest\s+folio`, `room\s+no`, `accommodation`,
			},
			Required: []string{`DIČ|IČ\s*DPH|VAT`, `IČO|IČ`, `DPH|VAT|MWST`},
			Bonus: []string{
				`datum\s+splatnosti`, `datum\s+vystavení`, `\bIBAN\b`,
				`konstantní\s+symbol`, `specifický\s+symbol`, `celkem\s+k\s+úhradě`,
				`arrival`, `departure`, `room\s+rate`, `reservation\s+no`, `balance\s+to\s+pay`,
			},
			Negative: []string{`\bPARKOVNÉ`, `ÚČTENKA\s+z\s+EET`},
		},
		{
			Kind:      types.KindContract,
			Priority:  90,
			BaseScore: 90,
			Keywords: []string{
				`\bSMLOUVA\b`, `\bCONTRACT\b`, `\bVERTRAG\b`,
				`kupní\s+smlouva`, `nájemní\s+smlouva`, `smlouva\s+o\s+dílo`,
				`uzavřeli`, `smluvní\s+strany`, `předmět\s+smlouvy`,
			},
			Required: []string{`smluvní\s+stran`, `podpis`},
			Bonus:    []string{`článek`, `§`, `odstavec`, `příloha`, `platnost\s+smlouvy`},
		},
		{
			Kind:      types.KindDeliveryNote,
			Priority:  85,
			BaseScore: 85,
			Keywords: []string{
				`dodací\s+list`, `delivery\s+note`, `lieferschein`,
				`dodávka\s+zboží`, `expedice`, `předávací\s+protokol`,
			},
			Required: []string{`IČO|IČ`, `číslo\s+dodacího\s+listu`},
			Bonus:    []string{`počet\s+kusů`, `váha`, `přepravce`, `datum\s+expedice`, `převzal`},
		},
		{
			Kind:      types.KindReceipt,
			Priority:  80,
			BaseScore: 80,
			Keywords: []string{
				`ÚČTENKA`, `\bRECEIPT\b`, `\bBELEG\b`, `\bBON\b`,
				`doklad\s+o\s+prodeji`, `pokladní\s+doklad`, `paragon`, `stvrzenka`,
			},
			Required: []string{`DIČ|IČ\s*DPH`, `celkem|total|gesamt`},
			Bonus:    []string{`EET|FIK`, `\bBKP\b`, `\bPKP\b`, `datum\s+a\s+čas`, `pokladna`, `číslo\s+účtenky`},
		},
		{
			Kind:      types.KindOrder,
			Priority:  75,
			BaseScore: 80,
			Keywords: []string{
				`\bOBJEDNÁVKA\b`, `objednávk`, `\bORDER\b`, `\bBESTELLUNG\b`,
				`objednáváme`, `objednací\s+číslo`, `purchase\s+order`,
			},
			Required: []string{`IČO|IČ`, `množství|počet`},
			Bonus:    []string{`dodací\s+termín`, `odběratel`, `dodavatel`, `jednotková\s+cena`},
		},
		{
			Kind:      types.KindPaymentDocument,
			Priority:  70,
			BaseScore: 75,
			Keywords: []string{
				`doklad\s+o\s+platbě`, `payment\s+receipt`, `potvrzení\s+o\s+platbě`,
				`platební\s+doklad`, `úhrada`, `zaplaceno`,
			},
			Required: []string{`\d+[.,]\d+\s*Kč`, `datum\s+platby|datum\s+úhrady`},
			Bonus:    []string{`způsob\s+platby`, `hotově|kartou|převodem`, `variabilní\s+symbol`},
		},
		{
			Kind:      types.KindMarketing,
			Priority:  60,
			BaseScore: 80,
			Keywords: []string{
				`\bSLEVA\b`, `\bAKCE\b`, `\bVÝPRODEJ\b`, `\bZDARMA\b`,
				`\bNEWSLETTER\b`, `\bODHLÁSIT`, `\bUNSUBSCRIBE\b`,
				`limitovaná\s+nabídka`, `black\s+friday`, `cyber\s+monday`,
				`\bRABATT\b`, `\bDISCOUNT\b`, `\bSALE\b`,
				`nenechte\s+si\s+ujít`, `pouze\s+dnes`,
			},
			Bonus: []string{
				`\d+\s*%\s*sleva`, `\d+\s*%\s*off`, `klikněte\s+zde`,
				`objednat\s+nyní`, `koupit\s+teď`, `přihlásit\s+k\s+odběru`,
			},
			Negative: []string{`\bFAKTURA\b`, `ÚČTENKA`, `\bDPH\b`, `IČO`},
		},
		{
			Kind:      types.KindCorrespondence,
			Priority:  40,
			BaseScore: 55,
			Keywords: []string{
				`\bvážen[ýá]`, `\bdear\b`, `sehr\s+geehrte`, `dobrý\s+den`,
				`s\s+pozdravem`, `\bregards\b`, `mit\s+freundlichen`,
			},
			Bonus:    []string{`odpověď`, `dotaz`, `děkuji`, `prosím`},
			Negative: []string{`\bFAKTURA\b`, `ÚČTENKA`, `\bDPH\b`, `IČO`, `variabilní\s+symbol`},
		},
	}
}

var notificationSenders = compileMust([]string{
	`no-?reply@`,
	`donotreply@`,
	`notification@`,
	`alert@`,
	`system@`,
	`automat[^@]*@`,
	`robot@`,
	`synology`,
	`diskstation`,
})

var notificationSubjects = compileMust([]string{
	`^statistic`,
	`^alert:`,
	`^notification:`,
	`automatick[áé]`,
	`systémov[áé]`,
	`loxone`,
	`miniserver`,
	`^\[192\.168\.`,
})

// IsSystemNotification reports whether the sender address or subject
// line marks the message as machine-generated (monitoring boxes, NAS
// reports, home-automation alerts). These never carry extractable
// business content, so detection runs before any rule scoring.
func IsSystemNotification(from, subject string) bool {
	from = strings.ToLower(from)
	subject = strings.ToLower(subject)
	for _, re := range notificationSenders {
		if re.MatchString(from) {
			return true
		}
	}
	for _, re := range notificationSubjects {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// forceTables assign a definite kind to items no rule or model could
// place. Order matters: the first table with a hit wins.
var forceTables = []struct {
	kind     types.DocumentKind
	keywords []string
}{
	{types.KindITNotes, []string{
		"api", "key", "server", "docker", "linux", "windows",
		"workstation", "ollama", "python", "git", "ssh",
		"backup", "nas", "disk", "storage", "config", "setup", "install",
		"ubuntu", "debian", "macos", "terminal", "bash",
		"license", "licence", "product key", "activation", "vm", "virtual",
	}},
	{types.KindProjectNotes, []string{
		"katalog", "homepage", "web", "projekt",
		"design", "layout", "draft", "mockup", "wireframe", "prototype",
	}},
	{types.KindCorrespondence, []string{
		"schránka", "datová", "zpráva", "odpověď", "dotaz", "info", "fyi",
		"dobrý den", "zdravím", "děkuji", "prosím", "s pozdravem",
	}},
	{types.KindMarketing, []string{
		"sleva", "akce", "nabídka", "newsletter", "odhlásit", "unsubscribe",
		"promo", "discount", "sale", "offer",
	}},
}

var photoWords = []string{"obrázk", "foto", "image", "screenshot", "snímek"}

var personalDomains = []string{"@gmail", "@seznam", "@email", "@outlook", "@hotmail", "@yahoo"}

// ForceKind maps an item that stayed unknown through every phase onto
// a definite kind. It never returns KindUnknown: the fallback order is
// keyword tables, then photo references (project notes), then personal
// sender domains, then correspondence.
func ForceKind(from, subject, summary, keywords string) types.DocumentKind {
	all := strings.ToLower(subject + " " + summary + " " + keywords)
	from = strings.ToLower(from)

	for _, table := range forceTables {
		for _, kw := range table.keywords {
			if strings.Contains(all, kw) {
				return table.kind
			}
		}
	}
	for _, w := range photoWords {
		if strings.Contains(all, w) {
			return types.KindProjectNotes
		}
	}
	for _, d := range personalDomains {
		if strings.Contains(from, d) {
			return types.KindCorrespondence
		}
	}
	return types.KindCorrespondence
}

func compileMust(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile("(?i)" + p)
	}
	return compiled
}
