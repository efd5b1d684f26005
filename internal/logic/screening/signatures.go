// Package screening classifies uploaded bytes by their magic numbers and runs
// heuristic malware checks on incoming files.
package screening

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/imghost/abuseguard/internal/logic"
)

// FileKind is the format detected from a file's leading bytes.
type FileKind string

const (
	KindJPEG    FileKind = "jpeg"
	KindPNG     FileKind = "png"
	KindGIF     FileKind = "gif"
	KindWebP    FileKind = "webp"
	KindPE      FileKind = "pe-exe"
	KindELF     FileKind = "elf"
	KindUnknown FileKind = "unknown"
)

// HeaderSize is the number of leading bytes Detect inspects.
const HeaderSize = 12

// ErrMimeMismatch is returned when the declared MIME type does not match the
// detected file kind.
var ErrMimeMismatch = errors.New("declared mime type does not match file contents")

type part struct {
	offset int
	magic  []byte
}

type signature struct {
	kind  FileKind
	mime  string
	parts []part
}

// signatures is evaluated in order; every part must match at its offset.
var signatures = []signature{
	{kind: KindJPEG, mime: "image/jpeg", parts: []part{{0, []byte{0xFF, 0xD8, 0xFF}}}},
	{kind: KindPNG, mime: "image/png", parts: []part{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}}},
	{kind: KindGIF, mime: "image/gif", parts: []part{{0, []byte("GIF8")}}},
	{kind: KindWebP, mime: "image/webp", parts: []part{{0, []byte("RIFF")}, {8, []byte("WEBP")}}},
	{kind: KindPE, mime: "application/x-msdownload", parts: []part{{0, []byte{0x4D, 0x5A}}}},
	{kind: KindELF, mime: "application/x-elf", parts: []part{{0, []byte{0x7F, 0x45, 0x4C, 0x46}}}},
}

func (s signature) matches(header []byte) bool {
	for _, p := range s.parts {
		end := p.offset + len(p.magic)
		if len(header) < end || !bytes.Equal(header[p.offset:end], p.magic) {
			return false
		}
	}
	return true
}

// Detect returns the kind whose signature matches the first HeaderSize bytes
// of header, or KindUnknown.
func Detect(header []byte) FileKind {
	if len(header) > HeaderSize {
		header = header[:HeaderSize]
	}
	for _, s := range signatures {
		if s.matches(header) {
			return s.kind
		}
	}
	return KindUnknown
}

// MimeFor returns the canonical MIME type for kind, or "" for KindUnknown.
func MimeFor(kind FileKind) string {
	for _, s := range signatures {
		if s.kind == kind {
			return s.mime
		}
	}
	return ""
}

// Executable reports whether kind is a native executable format.
func (k FileKind) Executable() bool {
	return k == KindPE || k == KindELF
}

// NormalizeMime lower-cases a MIME type, strips parameters and folds the
// image/jpg alias into image/jpeg.
func NormalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "image/jpg" {
		return "image/jpeg"
	}
	return mime
}

// IsImageMime reports whether mime declares an image type.
func IsImageMime(mime string) bool {
	return strings.HasPrefix(NormalizeMime(mime), "image/")
}

// CrossCheck reports whether declaredMime agrees with the detected kind.
func CrossCheck(declaredMime string, kind FileKind) bool {
	want := MimeFor(kind)
	return want != "" && NormalizeMime(declaredMime) == want
}

// Validate detects the kind of header and checks it against declaredMime.
func Validate(declaredMime string, header []byte) (FileKind, error) {
	kind := Detect(header)
	if kind == KindUnknown {
		return kind, logic.ErrClassificationInconclusive
	}
	if !CrossCheck(declaredMime, kind) {
		return kind, fmt.Errorf("%w: declared %q, detected %s", ErrMimeMismatch, declaredMime, kind)
	}
	return kind, nil
}
