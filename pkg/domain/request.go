package domain

// Document is the fully substituted, template-wrapped markup sent to the backend.
type Document string

// Bytes returns the document as it goes on the wire.
func (d Document) Bytes() []byte {
	return []byte(d)
}

// ColorScheme is the background/text colour pair of a rendered image, as bare hex digits.
type ColorScheme struct {
	Background string
	Text       string
}

// Colour preference names understood by SchemeFor.
const (
	SchemeLight = "light"
	SchemeDark  = "dark"
)

var (
	// LightScheme is the default scheme.
	LightScheme = ColorScheme{Background: "ffffff", Text: "202020"}
	// DarkScheme matches the dark chat theme.
	DarkScheme = ColorScheme{Background: "36393F", Text: "f0f0f0"}
)

// SchemeFor resolves a preference name. Unknown names fall back to the light scheme.
func SchemeFor(name string) ColorScheme {
	switch name {
	case SchemeDark:
		return DarkScheme
	default:
		return LightScheme
	}
}

// RenderRequest is a single render job. It is a value type and is never mutated once built.
type RenderRequest struct {
	RequesterID string
	Source      string
	MathMode    bool
	Colors      ColorScheme
}
