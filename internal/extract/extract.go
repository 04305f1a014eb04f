// Package extract pulls plain text out of uploaded study material.
package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Kind classifies an uploaded file by how its text is obtained.
type Kind string

const (
	KindText        Kind = "text"
	KindDocx        Kind = "docx"
	KindSpreadsheet Kind = "spreadsheet"
	KindCSV         Kind = "csv"
	KindLegacyDoc   Kind = "doc"
	KindPDF         Kind = "pdf"
	KindUnsupported Kind = "unsupported"
)

const (
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrEmpty is returned when a supported file yields no text.
var ErrEmpty = errors.New("no text found")

// Detect picks the extraction strategy from the file name, falling back to
// the declared content type.
func Detect(name, contentType string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".markdown":
		return KindText
	case ".docx":
		return KindDocx
	case ".xlsx", ".xlsm":
		return KindSpreadsheet
	case ".csv":
		return KindCSV
	case ".doc":
		return KindLegacyDoc
	case ".pdf":
		return KindPDF
	}

	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "text/plain", "text/markdown":
		return KindText
	case mimeDocx:
		return KindDocx
	case mimeXlsx:
		return KindSpreadsheet
	case "text/csv":
		return KindCSV
	case "application/msword":
		return KindLegacyDoc
	case "application/pdf":
		return KindPDF
	}
	return KindUnsupported
}

// Supported reports whether text can be extracted from files of kind k.
func (k Kind) Supported() bool {
	switch k {
	case KindText, KindDocx, KindSpreadsheet, KindCSV:
		return true
	}
	return false
}

// Extract returns the text of one file. Kinds that cannot be read return a
// placeholder explaining what the user should do instead, not an error.
func Extract(name, contentType string, r io.Reader) (string, error) {
	kind := Detect(name, contentType)
	switch kind {
	case KindText:
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return string(b), nil
	case KindDocx:
		return fromDocx(r)
	case KindSpreadsheet:
		return fromSpreadsheet(r)
	case KindCSV:
		return fromCSV(r)
	case KindLegacyDoc:
		return fmt.Sprintf("[Legacy Word Document: %s]\n\nLegacy .doc files are not supported for automatic text extraction. "+
			"Save the document as .docx or paste its text directly.\n", name), nil
	case KindPDF:
		return fmt.Sprintf("[PDF File: %s]\nPDF text extraction is not available. Paste the text content instead.\n", name), nil
	default:
		return fmt.Sprintf("[File: %s]\nUnsupported file type (%s). Paste the text content instead.\n", name, contentType), nil
	}
}

func fromSpreadsheet(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		writeRows(&b, rows)
	}
	if b.Len() == 0 {
		return "", ErrEmpty
	}
	return b.String(), nil
}

func fromCSV(r io.Reader) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}
	var b strings.Builder
	writeRows(&b, rows)
	if b.Len() == 0 {
		return "", ErrEmpty
	}
	return b.String(), nil
}

func writeRows(b *strings.Builder, rows [][]string) {
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, c := range row {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) == 0 {
			continue
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteByte('\n')
	}
}

// File is one named upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result describes the outcome for one file of a combined extraction.
type Result struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Supported bool   `json:"supported"`
	Chars     int    `json:"chars"`
	Error     string `json:"error,omitempty"`
}

// Combine extracts every file and joins the results under "=== name ==="
// headers. A file that fails contributes an error section instead of
// aborting the batch.
func Combine(files []File) (string, []Result) {
	var b strings.Builder
	results := make([]Result, 0, len(files))
	for _, f := range files {
		kind := Detect(f.Name, f.ContentType)
		res := Result{Name: f.Name, Kind: kind, Supported: kind.Supported()}

		text, err := Extract(f.Name, f.ContentType, bytes.NewReader(f.Data))
		if err != nil {
			res.Error = err.Error()
			fmt.Fprintf(&b, "=== %s (Error) ===\n\nFailed to process this file. Paste its content manually.\n\n", f.Name)
		} else {
			res.Chars = len([]rune(text))
			fmt.Fprintf(&b, "=== %s ===\n\n%s\n\n", f.Name, text)
		}
		results = append(results, res)
	}
	return b.String(), results
}
