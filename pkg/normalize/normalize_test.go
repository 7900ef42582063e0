package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Adobe", "adobe"},
		{"uppercase", "ADOBE", "adobe"},
		{"legal suffix", "ADOBE Inc.", "adobe"},
		{"czech legal suffix", "ALZA.CZ a.s.", "alza"},
		{"comma legal suffix", "Dodavatel, s.r.o.", "dodavatel"},
		{"domain suffix", "Alza.cz", "alza"},
		{"display address", "Gab <GabNews@mailer.gab.com>", "gab"},
		{"emoji in display", "Gab\U0001F438 <GabNews@mailer.gab.com>", "gab"},
		{"decorations", "►DATART◄", "datart"},
		{"sro mixed case", "TESLA LIGHTING S.r.o.", "tesla lighting"},
		{"compound service suffix", "Agoda Price Alerts", "agoda"},
		{"single service suffix", "Agoda Deals", "agoda"},
		{"diacritics fold", "Pojišťovna VZP", "pojistovna vzp"},
		{"issue marker", "100+1 nové č.8", "1001 nove"},
		{"trailing digits", "Katalog 2024", "katalog"},
		{"empty", "", ""},
		{"polish legal form", "Sklep Sp. z o.o.", "sklep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.in))
		})
	}
}

func TestKeyIdempotent(t *testing.T) {
	inputs := []string{
		"ALZA.CZ a.s.", "Gab\U0001F438 <x@y.cz>", "Agoda Price Alerts",
		"TESLA LIGHTING S.r.o.", "Pojišťovna VZP", "100+1 nové č.8",
	}
	for _, in := range inputs {
		key := Key(in)
		assert.Equal(t, key, Key(key), "Key must be a fixpoint for %q", in)
	}
}

func TestKeyUnifiesVariants(t *testing.T) {
	variants := [][]string{
		{"Adobe", "ADOBE Inc.", "adobe"},
		{"Alza.cz", "alza.cz", "ALZA.CZ a.s."},
		{"DATART", "►DATART◄"},
		{"TESLA LIGHTING S.r.o.", "Tesla Lighting s.r.o.", "TESLA Lighting"},
	}
	for _, group := range variants {
		want := Key(group[0])
		for _, name := range group[1:] {
			assert.Equal(t, want, Key(name), "%q must share the key of %q", name, group[0])
		}
	}
}

func TestDisplayName(t *testing.T) {
	n := New()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"known mapping", "alza.cz", "Alza.cz"},
		{"known mapping via variant", "ALZA.CZ a.s.", "Alza.cz"},
		{"known mapping strips service", "Google Alerts", "Google"},
		{"unknown keeps cleaned original", "Loxone Electronics GmbH", "Loxone Electronics"},
		{"address dropped", "Faktury CZ <faktury@ucty.cz>", "Faktury CZ"},
		{"emoji stripped", "\U0001F6E0 HobyNaradi.cz", "HobyNaradi.cz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.DisplayName(tt.in))
		})
	}
}

func TestDisplayNameWithMappings(t *testing.T) {
	n := New().WithMappings(map[string]string{
		"Moje Firma s.r.o.": "Moje Firma",
	})
	assert.Equal(t, "Moje Firma", n.DisplayName("MOJE FIRMA"))
	// Built-ins survive the overlay.
	assert.Equal(t, "DATART", n.DisplayName("datart"))
}

func TestLoadMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	content := "\"Moje Firma s.r.o.\": Moje Firma\nexpondo: Expondo.cz\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	mappings, err := LoadMappings(path)
	require.NoError(t, err)
	assert.Equal(t, "Moje Firma", mappings["Moje Firma s.r.o."])

	n := New().WithMappings(mappings)
	assert.Equal(t, "Moje Firma", n.DisplayName("moje firma"))
}

func TestLoadMappingsErrors(t *testing.T) {
	_, err := LoadMappings(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read known mappings")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o644))
	_, err = LoadMappings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse known mappings")
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{"prefers mixed case", []string{"DATART", "Datart"}, "Datart"},
		{"prefers no decorations", []string{"►DATART◄", "DATART"}, "DATART"},
		{"prefers shorter", []string{"Tesla Lighting Company", "Tesla Lighting"}, "Tesla Lighting"},
		{"single", []string{"Aukro"}, "Aukro"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.names))
		})
	}
}
