// Package contactio reads contact lists and writes result files in JSON,
// YAML, CSV and XLSX formats.
package contactio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/email-sleuth/internal/model"
)

// Format identifies a file format by extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Stdio is the path that selects stdin or stdout.
const Stdio = "-"

// FormatOf returns the format implied by path's extension. Stdio is JSON.
func FormatOf(path string) (Format, error) {
	if path == Stdio {
		return FormatJSON, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("contactio: unsupported file type %q", filepath.Ext(path))
}

// ReadContacts loads contacts from path, choosing the parser by extension.
func ReadContacts(path string) ([]model.Contact, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	if format == FormatXLSX {
		return readXLSX(path)
	}

	var data []byte
	if path == Stdio {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "contactio: read %s", path)
	}
	return DecodeContacts(format, data)
}

// DecodeContacts parses an in-memory contact list. XLSX is not supported
// here because the spreadsheet reader needs a file.
func DecodeContacts(format Format, data []byte) ([]model.Contact, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatYAML:
		return decodeYAML(data)
	case FormatCSV:
		return decodeCSV(bytes.NewReader(data))
	}
	return nil, eris.Errorf("contactio: cannot decode %s from memory", format)
}

// decodeJSON accepts either a bare array or an object with a "contacts" key.
func decodeJSON(data []byte) ([]model.Contact, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var contacts []model.Contact
		if err := json.Unmarshal(data, &contacts); err != nil {
			return nil, eris.Wrap(err, "contactio: decode json array")
		}
		return contacts, nil
	}
	var wrapped struct {
		Contacts []model.Contact `json:"contacts"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, eris.Wrap(err, "contactio: decode json object")
	}
	return wrapped.Contacts, nil
}

func decodeYAML(data []byte) ([]model.Contact, error) {
	var records []map[string]any
	if err := yaml.Unmarshal(data, &records); err != nil {
		var wrapped struct {
			Contacts []map[string]any `yaml:"contacts"`
		}
		if werr := yaml.Unmarshal(data, &wrapped); werr != nil {
			return nil, eris.Wrap(err, "contactio: decode yaml")
		}
		records = wrapped.Contacts
	}
	contacts := make([]model.Contact, 0, len(records))
	for _, r := range records {
		contacts = append(contacts, model.ContactFromMap(r))
	}
	return contacts, nil
}

func decodeCSV(r io.Reader) ([]model.Contact, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "contactio: read csv")
	}
	return fromRows(rows), nil
}

func readXLSX(path string) ([]model.Contact, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "contactio: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("contactio: %s has no sheets", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return fromRows(rows), nil
}

// fromRows maps tabular rows to contacts using the first row as header.
// Blank rows are dropped; blank cells are left unset.
func fromRows(rows [][]string) []model.Contact {
	if len(rows) == 0 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	var contacts []model.Contact
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, v := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				rec[header[i]] = v
			}
		}
		if len(rec) == 0 {
			continue
		}
		contacts = append(contacts, model.ContactFromMap(rec))
	}
	return contacts
}
