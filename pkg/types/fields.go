package types

// The 31 named fields every Artifact carries. Field names double as the
// downstream service's custom-field names, so they are part of the wire
// contract and must not be renamed.
const (
	FieldDocTyp           = "doc_typ"
	FieldProtistranaNazev = "protistrana_nazev"
	FieldProtistranaICO   = "protistrana_ico"
	FieldProtistranaTyp   = "protistrana_typ"
	FieldCastkaCelkem     = "castka_celkem"
	FieldDatumDokumentu   = "datum_dokumentu"
	FieldCisloDokumentu   = "cislo_dokumentu"
	FieldMena             = "mena"
	FieldStavPlatby       = "stav_platby"
	FieldDatumSplatnosti  = "datum_splatnosti"
	FieldKategorie        = "kategorie"
	FieldEmailFrom        = "email_from"
	FieldEmailTo          = "email_to"
	FieldEmailSubject     = "email_subject"
	FieldOdOsoba          = "od_osoba"
	FieldOdOsobaRole      = "od_osoba_role"
	FieldOdFirma          = "od_firma"
	FieldProOsoba         = "pro_osoba"
	FieldProOsobaRole     = "pro_osoba_role"
	FieldProFirma         = "pro_firma"
	FieldPredmet          = "predmet"
	FieldAISummary        = "ai_summary"
	FieldAIKeywords       = "ai_keywords"
	FieldAIPopis          = "ai_popis"
	FieldTypSluzby        = "typ_sluzby"
	FieldNazevSluzby      = "nazev_sluzby"
	FieldPredmetTyp       = "predmet_typ"
	FieldPredmetNazev     = "predmet_nazev"
	FieldPolozkyText      = "polozky_text"
	FieldPolozkyJSON      = "polozky_json"
	FieldPerioda          = "perioda"
)

// FieldNames enumerates all 31 fields in contract order.
var FieldNames = []string{
	FieldDocTyp,
	FieldProtistranaNazev,
	FieldProtistranaICO,
	FieldProtistranaTyp,
	FieldCastkaCelkem,
	FieldDatumDokumentu,
	FieldCisloDokumentu,
	FieldMena,
	FieldStavPlatby,
	FieldDatumSplatnosti,
	FieldKategorie,
	FieldEmailFrom,
	FieldEmailTo,
	FieldEmailSubject,
	FieldOdOsoba,
	FieldOdOsobaRole,
	FieldOdFirma,
	FieldProOsoba,
	FieldProOsobaRole,
	FieldProFirma,
	FieldPredmet,
	FieldAISummary,
	FieldAIKeywords,
	FieldAIPopis,
	FieldTypSluzby,
	FieldNazevSluzby,
	FieldPredmetTyp,
	FieldPredmetNazev,
	FieldPolozkyText,
	FieldPolozkyJSON,
	FieldPerioda,
}

// FieldType is the downstream custom-field data type. Values travel as
// canonical strings inside Artifacts (amounts as decimal strings, dates
// as YYYY-MM-DD); delivery converts them per this table when patching.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeFloat  FieldType = "float"
	FieldTypeDate   FieldType = "date"
)

// FieldTypes maps every field to its downstream data type.
var FieldTypes = map[string]FieldType{
	FieldDocTyp:           FieldTypeString,
	FieldProtistranaNazev: FieldTypeString,
	FieldProtistranaICO:   FieldTypeString,
	FieldProtistranaTyp:   FieldTypeString,
	FieldCastkaCelkem:     FieldTypeFloat,
	FieldDatumDokumentu:   FieldTypeDate,
	FieldCisloDokumentu:   FieldTypeString,
	FieldMena:             FieldTypeString,
	FieldStavPlatby:       FieldTypeString,
	FieldDatumSplatnosti:  FieldTypeDate,
	FieldKategorie:        FieldTypeString,
	FieldEmailFrom:        FieldTypeString,
	FieldEmailTo:          FieldTypeString,
	FieldEmailSubject:     FieldTypeString,
	FieldOdOsoba:          FieldTypeString,
	FieldOdOsobaRole:      FieldTypeString,
	FieldOdFirma:          FieldTypeString,
	FieldProOsoba:         FieldTypeString,
	FieldProOsobaRole:     FieldTypeString,
	FieldProFirma:         FieldTypeString,
	FieldPredmet:          FieldTypeString,
	FieldAISummary:        FieldTypeString,
	FieldAIKeywords:       FieldTypeString,
	FieldAIPopis:          FieldTypeString,
	FieldTypSluzby:        FieldTypeString,
	FieldNazevSluzby:      FieldTypeString,
	FieldPredmetTyp:       FieldTypeString,
	FieldPredmetNazev:     FieldTypeString,
	FieldPolozkyText:      FieldTypeString,
	FieldPolozkyJSON:      FieldTypeString,
	FieldPerioda:          FieldTypeString,
}

// EmptyFields returns a fresh field map with every contract field
// present and empty, so downstream consumers always see all 31 keys.
func EmptyFields() map[string]string {
	m := make(map[string]string, len(FieldNames))
	for _, name := range FieldNames {
		m[name] = ""
	}
	return m
}
