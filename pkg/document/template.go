package document

import (
	"fmt"
	"io"
	"text/template"
)

// Templates use [[ ]] delimiters so LaTeX braces need no escaping.
const (
	leftDelim  = "[["
	rightDelim = "]]"
)

// DefaultTemplate is the document wrapper used when no template file is configured.
// The backend's preamble has already opened the document.
const DefaultTemplate = `\pagecolor[HTML]{[[.Background]]}\definecolor{text}{HTML}{[[.Text]]}` +
	`\color{text}\ctikzset{color=text}[[.Body]]` + "\n" + `\end{document}` + "\n"

// TemplateData is what a template is executed with.
type TemplateData struct {
	Background string
	Text       string
	Body       string
}

// ParseTemplate parses a document template and checks that it executes.
func ParseTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("document").Delims(leftDelim, rightDelim).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document template: %w", err)
	}
	if err := tmpl.Execute(io.Discard, TemplateData{}); err != nil {
		return nil, fmt.Errorf("document template does not execute: %w", err)
	}
	return tmpl, nil
}

// LoadTemplate reads and parses a document template.
func LoadTemplate(r io.Reader) (*template.Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document template: %w", err)
	}
	return ParseTemplate(string(data))
}

// MustDefaultTemplate returns the parsed DefaultTemplate.
func MustDefaultTemplate() *template.Template {
	return template.Must(ParseTemplate(DefaultTemplate))
}
