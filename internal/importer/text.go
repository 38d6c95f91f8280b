package importer

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

var pdfMagic = []byte("%PDF")

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// statementText returns the UTF-8 text of a statement file. PDF documents are
// reduced to their plain text; legacy single-byte exports are read as
// Windows-1252.
func statementText(data []byte) ([]byte, error) {
	if isPDF(data) {
		return pdfText(data)
	}
	if utf8.Valid(data) {
		return data, nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decoding windows-1252: %w", err)
	}
	return out, nil
}

func pdfText(data []byte) (text []byte, err error) {
	// The PDF library panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			text, err = nil, fmt.Errorf("reading pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	text, err = io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("reading pdf text: %w", err)
	}
	return text, nil
}
