package document

import (
	"log/slog"
	"regexp"
	"strings"
	"text/template"
	"unicode"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/domain"
)

// The optional first line is a language hint such as tex or latex.
var fencedBlock = regexp.MustCompile("^```(?:[A-Za-z0-9_+-]*\n)?((?:.|\n)*)```$")

// Builder produces backend documents. It is safe for concurrent use.
type Builder struct {
	table    Table
	template *template.Template
	logger   *slog.Logger
}

// Option configures the Builder.
type Option func(*Builder)

// WithLogger configures a logger for the Builder.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a Builder. A nil template selects DefaultTemplate.
func NewBuilder(table Table, tmpl *template.Template, opts ...Option) *Builder {
	if tmpl == nil {
		tmpl = MustDefaultTemplate()
	}
	b := &Builder{table: table, template: tmpl, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build turns raw source into a document. It never fails: an empty source produces a
// document with an empty body, so callers reject empty input first.
func (b *Builder) Build(source string, mathMode bool, colors domain.ColorScheme) domain.Document {
	body := Process(source, mathMode, b.table)

	var sb strings.Builder
	err := b.template.Execute(&sb, TemplateData{
		Background: colors.Background,
		Text:       colors.Text,
		Body:       body,
	})
	if err != nil {
		// ParseTemplate checked the template against empty data; a data-dependent action can
		// still fail. The bare body still renders, without colours.
		b.logger.Error("Document template failed, sending bare body", "template", b.template.Name(), "err", err)
		return domain.Document(body)
	}
	return domain.Document(sb.String())
}

// BuildRequest is Build for a RenderRequest.
func (b *Builder) BuildRequest(req domain.RenderRequest) domain.Document {
	return b.Build(req.Source, req.MathMode, req.Colors)
}

// Process sanitizes source: it unwraps a fenced block, applies the substitution table and,
// outside math mode, wraps the result as inline display-style math.
func Process(source string, mathMode bool, table Table) string {
	source = strings.Trim(source, " \n")
	if m := fencedBlock.FindStringSubmatch(source); m != nil {
		source = strings.Trim(m[1], " \n")
	}
	source = table.Apply(source)
	if !mathMode {
		source = `\( \displaystyle ` + source + ` \)`
	}
	return source
}

var proseEscaper = strings.NewReplacer(`#`, `\#`, `$`, `\$`, `%`, `\%`)

// ExtractInline builds a math-mode body from a chat message that embeds formulas between $$
// delimiters. Prose segments are escaped; each formula becomes a display-style inline segment.
// Without at least one complete delimiter pair the result is empty.
func ExtractInline(content string) string {
	parts := strings.Split(content, "$$")
	if len(parts) < 3 {
		return ""
	}
	var sb strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i%2 == 0 {
			sb.WriteString(proseEscaper.Replace(part))
			sb.WriteString(" ")
			continue
		}
		sb.WriteString(`$\displaystyle `)
		sb.WriteString(strings.Trim(part, "`"))
		sb.WriteString("$ ")
	}
	return strings.TrimRightFunc(sb.String(), unicode.IsSpace)
}
