package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	rpdf "rsc.io/pdf"
)

// minPDFTextChars is the alphanumeric count under which extracted text is
// considered unusable (scanned documents, image-only pages).
const minPDFTextChars = 150

// PDFText is the text layer of a PDF document.
type PDFText struct {
	Text       string
	Pages      int
	LowQuality bool
}

// ExtractPDFText reads the text layer of content. It returns ErrNotPDF when
// content does not start with a PDF header.
func ExtractPDFText(content []byte) (result PDFText, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(content, "\x00\t\r\n "), []byte("%PDF-")) {
		return PDFText{}, ErrNotPDF
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			result = PDFText{}
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return PDFText{}, fmt.Errorf("open pdf: %w", err)
	}

	var builder strings.Builder
	pages := reader.NumPage()
	for pageIndex := 1; pageIndex <= pages; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	text := cleanText(builder.String())
	return PDFText{
		Text:       text,
		Pages:      pages,
		LowQuality: alphanumericCount(text) < minPDFTextChars,
	}, nil
}

func alphanumericCount(s string) int {
	n := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
		s = s[size:]
	}
	return n
}

// deadlineMarkers introduce a closing date in French call documents.
var deadlineMarkers = []string{
	"date limite de dépôt",
	"date limite de candidature",
	"date limite",
	"clôture des candidatures",
	"clôture",
	"avant le",
	"jusqu'au",
}

// deadlineMention returns the short passage following the first deadline
// marker found in text, or "" when none is present. The passage is meant for
// the date parser, which picks the embedded date out of it.
func deadlineMention(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range deadlineMarkers {
		i := strings.Index(lower, marker)
		if i < 0 {
			continue
		}
		rest := []rune(lower[i+len(marker):])
		if len(rest) > 40 {
			rest = rest[:40]
		}
		return strings.TrimSpace(strings.TrimLeft(string(rest), " :"))
	}
	return ""
}
