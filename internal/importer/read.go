// Package importer loads contact spreadsheets into the lead base. Rows are
// checked against existing leads before anything is written, and each
// imported row goes through the regular ingestion path.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-engine/internal/normalize"
)

// Row is one contact read from a spreadsheet. Line is 1-based and counts
// the header.
type Row struct {
	Line  int      `json:"linha"`
	Name  string   `json:"nome,omitempty"`
	Email string   `json:"email,omitempty"`
	Phone string   `json:"telefone,omitempty"`
	City  string   `json:"cidade,omitempty"`
	State string   `json:"estado,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type field int

const (
	fieldName field = iota
	fieldEmail
	fieldPhone
	fieldCity
	fieldState
	fieldTags
)

var headerAliases = map[string]field{
	"nome":     fieldName,
	"name":     fieldName,
	"email":    fieldEmail,
	"e-mail":   fieldEmail,
	"telefone": fieldPhone,
	"phone":    fieldPhone,
	"celular":  fieldPhone,
	"whatsapp": fieldPhone,
	"cidade":   fieldCity,
	"city":     fieldCity,
	"estado":   fieldState,
	"state":    fieldState,
	"uf":       fieldState,
	"tags":     fieldTags,
}

// columns maps known header names to their column index. The first
// matching column wins.
func columns(header []string) (map[field]int, error) {
	cols := make(map[field]int)
	for i, h := range header {
		key := strings.ToLower(normalize.StripDiacritics(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))))
		if f, ok := headerAliases[key]; ok {
			if _, dup := cols[f]; !dup {
				cols[f] = i
			}
		}
	}
	_, hasEmail := cols[fieldEmail]
	_, hasPhone := cols[fieldPhone]
	if !hasEmail && !hasPhone {
		return nil, eris.New("importer: header needs an email or phone column")
	}
	return cols, nil
}

// toRows converts records (header first) into Rows. Blank records are
// skipped.
func toRows(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, eris.New("importer: file is empty")
	}
	cols, err := columns(records[0])
	if err != nil {
		return nil, err
	}

	cell := func(rec []string, f field) string {
		i, ok := cols[f]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for n, rec := range records[1:] {
		r := Row{
			Line:  n + 2,
			Name:  cell(rec, fieldName),
			Email: cell(rec, fieldEmail),
			Phone: cell(rec, fieldPhone),
			City:  cell(rec, fieldCity),
			State: cell(rec, fieldState),
			Tags:  splitTags(cell(rec, fieldTags)),
		}
		if r.Name == "" && r.Email == "" && r.Phone == "" {
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ReadCSV reads a comma- or semicolon-separated contact file. The
// delimiter is picked from the header line.
func ReadCSV(ctx context.Context, r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, eris.Wrap(err, "importer: peek csv")
	}
	delim := ','
	if line, _, _ := bytes.Cut(head, []byte("\n")); bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		delim = ';'
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "importer: csv cancelled")
		}
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "importer: read csv row")
		}
		records = append(records, rec)
	}
	return toRows(records)
}

// ReadXLSX reads contacts from the first sheet of an XLSX file.
func ReadXLSX(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("importer: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		records = append(records, cells)
	}
	return toRows(records)
}
