package normalize

import "strings"

// Input is the canonical per-row shape every downstream component consumes.
// Raw preserves the original column bag; accessors return typed values
// without reflection.
type Input struct {
	RowID       string         `json:"row_id"`
	TableID     string         `json:"table_id"`
	Name        string         `json:"name,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	LinkedInURL string         `json:"linkedin_url,omitempty"`
	Email       string         `json:"email,omitempty"`
	Company     string         `json:"company,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// RawString returns the raw column value for key as a string.
func (in *Input) RawString(key string) (string, bool) {
	if in.Raw == nil {
		return "", false
	}
	v, ok := in.Raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// RawNumber returns the raw column value for key as a float64.
func (in *Input) RawNumber(key string) (float64, bool) {
	if in.Raw == nil {
		return 0, false
	}
	switch v := in.Raw[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// columnAliases maps user column names to canonical field keys. Canonical
// keys map to themselves so a canonical column always wins over an alias.
var columnAliases = map[string]string{
	"name":          "name",
	"full name":     "name",
	"fullname":      "name",
	"contact":       "name",
	"contact name":  "name",
	"person":        "name",
	"company":       "company",
	"company name":  "company",
	"organization":  "company",
	"organisation":  "company",
	"employer":      "company",
	"account":       "company",
	"domain":        "domain",
	"website":       "domain",
	"site":          "domain",
	"url":           "domain",
	"web":           "domain",
	"company url":   "domain",
	"email":         "email",
	"e-mail":        "email",
	"email address": "email",
	"work email":    "email",
	"linkedin":      "linkedin_url",
	"linkedin url":  "linkedin_url",
	"linkedin_url":  "linkedin_url",
	"li profile":    "linkedin_url",
	"profile":       "linkedin_url",
	"title":         "title",
	"job title":     "title",
	"position":      "title",
	"role":          "title",
	"location":      "location",
	"city":          "location",
	"industry":      "industry",
	"sector":        "industry",
}

// ColumnKey maps a user column name to its internal field key.
func ColumnKey(column string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(column))
	key = strings.Join(strings.Fields(key), " ")
	field, ok := columnAliases[key]
	return field, ok
}

// NewInput builds the canonical Input from a raw column bag. Canonical
// column keys take precedence over aliases; derived fields (domain from
// email, domain from URL) fill gaps but never overwrite explicit values.
func NewInput(tableID, rowID string, raw map[string]any) *Input {
	in := &Input{RowID: rowID, TableID: tableID, Raw: raw}

	assign := func(field, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		switch field {
		case "name":
			if in.Name == "" {
				if n, ok := PersonName(value); ok {
					in.Name = n
				}
			}
		case "company":
			if in.Company == "" {
				if n, ok := PersonName(value); ok {
					in.Company = n
				}
			}
		case "domain":
			if in.Domain == "" {
				if d, ok := Domain(value, DefaultDomainOptions()); ok {
					in.Domain = d
				}
			}
		case "email":
			if in.Email == "" && strings.Count(value, "@") == 1 {
				in.Email = strings.ToLower(value)
			}
		case "linkedin_url":
			if in.LinkedInURL == "" && strings.Contains(strings.ToLower(value), "linkedin.com/") {
				in.LinkedInURL = value
			}
		}
	}

	// Canonical keys first so aliases cannot shadow them.
	for column, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		field, known := ColumnKey(column)
		if known && field == strings.ToLower(strings.TrimSpace(column)) {
			assign(field, s)
		}
	}
	for column, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if field, known := ColumnKey(column); known {
			assign(field, s)
		}
	}

	// A corporate email implies the company domain.
	if in.Domain == "" && in.Email != "" {
		if d, ok := EmailDomain(in.Email); ok {
			in.Domain = d
		}
	}
	return in
}

// Has reports whether the canonical field is already present on the input.
func (in *Input) Has(field string) bool {
	switch field {
	case "name":
		return in.Name != ""
	case "company":
		return in.Company != ""
	case "domain", "website":
		return in.Domain != ""
	case "email":
		return in.Email != ""
	case "linkedin_url":
		return in.LinkedInURL != ""
	default:
		_, ok := in.RawString(field)
		return ok
	}
}
