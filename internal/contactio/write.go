package contactio

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/email-sleuth/internal/model"
)

// resultColumns is the flat layout used for CSV and XLSX output.
var resultColumns = []string{
	"first_name", "last_name", "full_name", "domain",
	"email", "email_confidence", "email_verification_method", "email_alternatives",
	"email_finding_skipped", "email_finding_reason", "email_verification_failed", "email_finding_error",
}

// WriteResults writes results to path in the format implied by its
// extension. Stdio writes indented JSON to stdout.
func WriteResults(path string, results []*model.ContactResult) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	if path == Stdio {
		return EncodeJSON(os.Stdout, results)
	}
	if format == FormatXLSX {
		return writeXLSX(path, results)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "contactio: create %s", path)
	}

	switch format {
	case FormatCSV:
		err = EncodeCSV(f, results)
	case FormatYAML:
		err = EncodeYAML(f, results)
	default:
		err = EncodeJSON(f, results)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "contactio: close %s", path)
	}
	return err
}

// EncodeJSON writes results as an indented JSON array.
func EncodeJSON(w io.Writer, results []*model.ContactResult) error {
	if results == nil {
		results = []*model.ContactResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(results), "contactio: encode json")
}

// EncodeYAML writes results as a YAML sequence with the same keys as the
// JSON output.
func EncodeYAML(w io.Writer, results []*model.ContactResult) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return eris.Wrap(err, "contactio: marshal results")
	}
	var doc []any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return eris.Wrap(err, "contactio: unmarshal results")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "contactio: encode yaml")
	}
	return eris.Wrap(enc.Close(), "contactio: close yaml encoder")
}

// EncodeCSV writes one header row followed by one row per result.
func EncodeCSV(w io.Writer, results []*model.ContactResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultColumns); err != nil {
		return eris.Wrap(err, "contactio: write csv header")
	}
	for _, r := range results {
		if err := cw.Write(resultRow(r)); err != nil {
			return eris.Wrapf(err, "contactio: write csv row %d", r.Index)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "contactio: flush csv")
}

func writeXLSX(path string, results []*model.ContactResult) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("results")
	if err != nil {
		return eris.Wrap(err, "contactio: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range resultColumns {
		header.AddCell().SetString(col)
	}
	for _, r := range results {
		row := sheet.AddRow()
		for i, v := range resultRow(r) {
			cell := row.AddCell()
			if resultColumns[i] == "email_confidence" {
				cell.SetInt(r.Score)
				continue
			}
			cell.SetString(v)
		}
	}
	return eris.Wrapf(f.Save(path), "contactio: save %s", path)
}

func resultRow(r *model.ContactResult) []string {
	return []string{
		r.Contact.FirstName,
		r.Contact.LastName,
		r.Contact.FullName,
		r.Contact.Domain,
		r.Email,
		strconv.Itoa(r.Score),
		r.VerificationMethod,
		strings.Join(r.Alternatives, ";"),
		strconv.FormatBool(r.Skipped),
		r.SkipReason,
		strconv.FormatBool(r.VerificationFailed),
		r.Error,
	}
}
