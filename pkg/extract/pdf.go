package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MinTextLength is the minimum number of characters a document must yield
// before it is considered to contain usable text.
const MinTextLength = 100

// ErrTooLittleText means the PDF parsed but produced no usable text, which
// usually indicates a scanned or image-only document.
var ErrTooLittleText = errors.New("extract: document contains no usable text")

// Text pulls plain text from the given PDF bytes. Page fragments are joined
// with single spaces and pages are separated by blank lines. Returns
// ErrTooLittleText when the result is shorter than MinTextLength.
func Text(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		text := pageText(reader, i)
		if text != "" {
			pages = append(pages, text)
		}
	}

	full := strings.TrimSpace(strings.Join(pages, "\n\n"))
	if tooLittleText(full) {
		return "", ErrTooLittleText
	}
	return full, nil
}

// tooLittleText reports whether the extracted text falls short of
// MinTextLength. Counts runes, not bytes, so accented text is not
// over-counted.
func tooLittleText(s string) bool {
	return utf8.RuneCountInString(s) < MinTextLength
}

// pageText extracts one page, recovering from parser panics so a single
// malformed page does not abort the whole document.
func pageText(reader *pdf.Reader, pageNum int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}

	var fragments []string
	for _, item := range page.Content().Text {
		s := strings.TrimSpace(item.S)
		if s != "" {
			fragments = append(fragments, s)
		}
	}
	return strings.Join(fragments, " ")
}
