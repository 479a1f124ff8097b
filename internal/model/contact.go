package model

import (
	"encoding/json"
	"strings"
)

// Contact is one input record. Domain may be a bare domain or a website URL.
// Fields the pipeline does not understand are kept in Extra and echoed back.
type Contact struct {
	FirstName string         `json:"first_name,omitempty" yaml:"first_name"`
	LastName  string         `json:"last_name,omitempty" yaml:"last_name"`
	FullName  string         `json:"full_name,omitempty" yaml:"full_name"`
	Domain    string         `json:"domain,omitempty" yaml:"domain"`
	Extra     map[string]any `json:"-" yaml:",inline"`
}

var contactKeys = map[string]bool{
	"first_name":     true,
	"last_name":      true,
	"full_name":      true,
	"name":           true,
	"domain":         true,
	"company_domain": true,
	"website":        true,
}

// UnmarshalJSON accepts the known aliases (name, company_domain, website)
// and collects everything else into Extra.
func (c *Contact) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ContactFromMap(raw)
	return nil
}

// MarshalJSON flattens Extra next to the known fields.
func (c Contact) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+4)
	for k, v := range c.Extra {
		out[k] = v
	}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("first_name", c.FirstName)
	put("last_name", c.LastName)
	put("full_name", c.FullName)
	put("domain", c.Domain)
	return json.Marshal(out)
}

// ContactFromMap builds a Contact from a loosely typed record, as produced
// by JSON, YAML or spreadsheet readers.
func ContactFromMap(raw map[string]any) Contact {
	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := raw[k]; ok && v != nil {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
		return ""
	}

	c := Contact{
		FirstName: str("first_name"),
		LastName:  str("last_name"),
		FullName:  str("full_name", "name"),
		Domain:    str("domain", "company_domain", "website"),
	}
	for k, v := range raw {
		if contactKeys[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return c
}

// Names returns first and last name, deriving missing parts from FullName:
// the first token is the first name, the last token the last name.
func (c Contact) Names() (first, last string) {
	first, last = strings.TrimSpace(c.FirstName), strings.TrimSpace(c.LastName)
	if first != "" && last != "" {
		return first, last
	}
	parts := strings.Fields(c.FullName)
	if len(parts) == 0 {
		return first, last
	}
	if first == "" {
		first = parts[0]
	}
	if last == "" {
		last = parts[len(parts)-1]
	}
	return first, last
}

// ValidatedContact is a Contact after input normalization.
type ValidatedContact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Domain    string `json:"domain"`
	Website   string `json:"website"`
}
