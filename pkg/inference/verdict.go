package inference

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mailsift/mailsift/pkg/types"
)

// ParseVerdict decodes a model's raw answer into a Verdict. Models
// routinely wrap the JSON in markdown fences or lead-in prose, so a
// failed direct decode gets one repair pass before giving up.
func ParseVerdict(model, raw string) (types.Verdict, error) {
	obj, err := decodeLoose(raw)
	if err != nil {
		return types.Verdict{}, err
	}

	kindVal, ok := obj[types.FieldDocTyp].(string)
	if !ok || strings.TrimSpace(kindVal) == "" {
		return types.Verdict{}, fmt.Errorf("model answer has no doc_typ")
	}
	kind, err := kindAlias(kindVal)
	if err != nil {
		return types.Verdict{}, err
	}

	fields := make(map[string]string)
	for name, val := range obj {
		if _, known := types.FieldTypes[name]; !known {
			continue
		}
		if s, ok := coerceField(val); ok {
			fields[name] = s
		}
	}
	fields[types.FieldDocTyp] = string(kind)

	return types.Verdict{Model: model, Kind: kind, Fields: fields}, nil
}

// decodeLoose tries a direct decode, then strips fences and slices the
// outermost braces and tries once more.
func decodeLoose(raw string) (map[string]interface{}, error) {
	s := strings.TrimSpace(raw)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj, nil
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("model answer is not valid JSON: %w", err)
	}
	return obj, nil
}

// kindAlias maps a model's doc_typ answer onto the closed kind set.
// "other" and its Czech spellings are a valid answer meaning no
// business kind applies; anything else unrecognized is an error.
func kindAlias(val string) (types.DocumentKind, error) {
	v := strings.ToLower(strings.TrimSpace(val))
	switch v {
	case "other", "jine", "jiné", "ostatni", "ostatní":
		return types.KindUnknown, nil
	}
	kind := types.DocumentKind(v)
	if kind.Valid() {
		return kind, nil
	}
	return "", fmt.Errorf("model answered unrecognized kind %q", val)
}

// coerceField converts one decoded JSON value to the canonical string
// form fields travel in. Nulls and null-ish strings are dropped so they
// never shadow a value a cheaper pass already extracted.
func coerceField(val interface{}) (string, bool) {
	switch v := val.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(v)
		switch strings.ToLower(s) {
		case "", "null", "none", "n/a":
			return "", false
		}
		return s, true
	case float64:
		if v == 0 {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		// Lists and nested objects occasionally show up for the item
		// fields; keep them as compact JSON.
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
