package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Service renders documents. The PDF and DOCX converters are swappable so
// tests can run without chromium or pandoc.
type Service struct {
	pdf  func(ctx context.Context, html string) ([]byte, error)
	docx func(ctx context.Context, html string) ([]byte, error)
}

// NewService creates an export service backed by headless Chrome and pandoc.
func NewService() *Service {
	return &Service{pdf: printPDF, docx: convertDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	html, err := s.RenderHTML(doc)
	if err != nil {
		return nil, err
	}
	name := sanitizeFilename(doc.Title)

	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	case FormatDOCX:
		data, err := s.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: name + ".docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// RenderHTML renders every page of doc, in page order, into one HTML file.
func (s *Service) RenderHTML(doc Document) (string, error) {
	pages := append([]Page(nil), doc.Pages...)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	data := TemplateData{
		Title:     doc.Title,
		Project:   doc.ProjectID,
		Hash:      doc.Hash,
		Mode:      doc.Mode,
		Author:    doc.Author,
		CreatedAt: doc.CreatedAt,
		Pages:     make([]TemplatePage, 0, len(pages)),
	}
	if strings.TrimSpace(data.Title) == "" {
		data.Title = doc.ProjectID
	}
	for _, page := range pages {
		data.Pages = append(data.Pages, TemplatePage{Number: page.Number, HTML: PageHTML(page.Content)})
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
