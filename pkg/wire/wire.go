// Package wire implements the two framings spoken by the binary rendering backend.
//
// Variant A ("preamble") opens every connection with a fixed preamble, sends the raw document
// and receives the payload followed by a big-endian status word. Variant B ("length-prefixed")
// sends a little-endian length before the document and receives a little-endian status word
// before the payload. In both variants the backend closes the connection after its reply, so a
// response is everything read up to EOF.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// StatusWidth is the size of the status word in bytes.
const StatusWidth = 4

// Status codes shared by both variants. StatusGhostscriptError is only sent by variant A.
const (
	StatusOK               uint32 = 0
	StatusTexError         uint32 = 1
	StatusGhostscriptError uint32 = 2
)

// ErrShortResponse is returned when a response cannot even hold a status word.
var ErrShortResponse = errors.New("response shorter than status word")

// Codec frames requests and splits responses for one backend revision.
type Codec interface {
	// Name identifies the variant in configuration and logs.
	Name() string
	// Preamble is written once right after a connection opens. It may be nil.
	Preamble() []byte
	// WriteRequest frames and writes one document.
	WriteRequest(w io.Writer, doc []byte) error
	// SplitResponse separates the status word from the payload of a complete response.
	SplitResponse(body []byte) (status uint32, payload []byte, err error)
}

// Variant names accepted by ByName.
const (
	NamePreamble       = "preamble"
	NameLengthPrefixed = "length-prefixed"
)

// ByName returns the codec for a configured variant.
func ByName(name string) (Codec, error) {
	switch name {
	case NamePreamble, "a", "A":
		return Preamble{}, nil
	case NameLengthPrefixed, "b", "B":
		return LengthPrefixed{}, nil
	default:
		return nil, fmt.Errorf("unknown wire variant %q", name)
	}
}

// Preamble is variant A.
type Preamble struct{}

var preamble = []byte("\\begin{document}\n")

func (Preamble) Name() string { return NamePreamble }

func (Preamble) Preamble() []byte { return preamble }

func (Preamble) WriteRequest(w io.Writer, doc []byte) error {
	_, err := w.Write(doc)
	return err
}

func (Preamble) SplitResponse(body []byte) (uint32, []byte, error) {
	if len(body) < StatusWidth {
		return 0, nil, ErrShortResponse
	}
	split := len(body) - StatusWidth
	return binary.BigEndian.Uint32(body[split:]), body[:split], nil
}

// LengthPrefixed is variant B.
type LengthPrefixed struct{}

func (LengthPrefixed) Name() string { return NameLengthPrefixed }

func (LengthPrefixed) Preamble() []byte { return nil }

func (LengthPrefixed) WriteRequest(w io.Writer, doc []byte) error {
	if uint64(len(doc)) > math.MaxUint32 {
		return fmt.Errorf("document of %d bytes does not fit a length prefix", len(doc))
	}
	frame := make([]byte, StatusWidth+len(doc))
	binary.LittleEndian.PutUint32(frame, uint32(len(doc)))
	copy(frame[StatusWidth:], doc)
	_, err := w.Write(frame)
	return err
}

func (LengthPrefixed) SplitResponse(body []byte) (uint32, []byte, error) {
	if len(body) < StatusWidth {
		return 0, nil, ErrShortResponse
	}
	return binary.LittleEndian.Uint32(body[:StatusWidth]), body[StatusWidth:], nil
}

// EncodeResponse builds a response frame the way the backend would. The gateway tests and the
// fake backends in this module use it.
func EncodeResponse(c Codec, status uint32, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+StatusWidth)
	word := make([]byte, StatusWidth)
	switch c.(type) {
	case LengthPrefixed:
		binary.LittleEndian.PutUint32(word, status)
		out = append(out, word...)
		out = append(out, payload...)
	default:
		binary.BigEndian.PutUint32(word, status)
		out = append(out, payload...)
		out = append(out, word...)
	}
	return out
}

// ReadRequest reads one framed document from the client side of a connection, as the backend
// would. For variant A it consumes the preamble and reads until the document terminator.
func ReadRequest(c Codec, r io.Reader) ([]byte, error) {
	switch c.(type) {
	case LengthPrefixed:
		var size [StatusWidth]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return nil, err
		}
		doc := make([]byte, binary.LittleEndian.Uint32(size[:]))
		if _, err := io.ReadFull(r, doc); err != nil {
			return nil, err
		}
		return doc, nil
	default:
		body, err := readUntilEnd(r)
		return bytes.TrimPrefix(body, preamble), err
	}
}

var documentEnd = []byte("\\end{document}\n")

func readUntilEnd(r io.Reader) ([]byte, error) {
	var buf []byte
	one := make([]byte, 1)
	for {
		n, err := r.Read(one)
		if n > 0 {
			buf = append(buf, one[0])
			if bytes.HasSuffix(buf, documentEnd) {
				return buf, nil
			}
		}
		if err != nil {
			return buf, err
		}
	}
}
