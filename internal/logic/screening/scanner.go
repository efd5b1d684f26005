package screening

import (
	"fmt"
	"path"
	"strings"

	"github.com/imghost/abuseguard/internal/models"
)

// DefaultSuspiciousExtensions are file extensions that never belong on an
// image host.
var DefaultSuspiciousExtensions = []string{".exe", ".bat", ".cmd", ".com", ".scr", ".vbs", ".js"}

// decoyExtensions are extensions a disguised payload pretends to be.
var decoyExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".heic": true, ".svg": true,
	".pdf": true, ".doc": true, ".docx": true, ".txt": true,
}

// Rule confidences.
const (
	ConfidenceSuspiciousExt  = 1.0
	ConfidenceDoubleExt      = 0.9
	ConfidenceMimeMismatch   = 0.8
	ConfidenceExecutableBody = 1.0
)

// Flag is one heuristic finding.
type Flag struct {
	Type       models.FlagType `json:"type"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// Result is the outcome of scanning one file.
type Result struct {
	Flagged bool     `json:"flagged"`
	Kind    FileKind `json:"detected_kind"`
	Flags   []Flag   `json:"flags,omitempty"`
}

// MaxConfidence returns the highest flag confidence, or 0.
func (r Result) MaxConfidence() float64 {
	var max float64
	for _, f := range r.Flags {
		if f.Confidence > max {
			max = f.Confidence
		}
	}
	return max
}

// Blocking splits flags at threshold: block holds flags at or above it,
// review the rest.
func (r Result) Blocking(threshold float64) (block, review []Flag) {
	for _, f := range r.Flags {
		if f.Confidence >= threshold {
			block = append(block, f)
		} else {
			review = append(review, f)
		}
	}
	return block, review
}

// Scanner applies the filename and content heuristics. The rules are
// additive; one file can raise several flags.
type Scanner struct {
	suspicious map[string]bool
}

// NewScanner creates a scanner for the given extensions, or the defaults when
// none are supplied.
func NewScanner(extensions ...string) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultSuspiciousExtensions
	}
	s := &Scanner{suspicious: make(map[string]bool, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.suspicious[ext] = true
	}
	return s
}

// extensions returns the dot-prefixed, lower-cased extensions of name in
// order, ignoring a leading dot on hidden files.
func extensions(name string) []string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	base = strings.TrimLeft(base, ".")
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return nil
	}
	exts := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		exts = append(exts, "."+p)
	}
	return exts
}

// Scan inspects filename, declaredMime and the leading bytes of data.
func (s *Scanner) Scan(filename, declaredMime string, data []byte) Result {
	res := Result{Kind: Detect(data)}

	exts := extensions(filename)
	if n := len(exts); n > 0 {
		last := exts[n-1]
		if s.suspicious[last] {
			res.Flags = append(res.Flags, Flag{
				Type:       models.FlagMalware,
				Confidence: ConfidenceSuspiciousExt,
				Reason:     fmt.Sprintf("suspicious file extension %s", last),
			})
		}
		// photo.jpg.exe hides the payload behind a decoy; payload.exe.png
		// carries it inside. jquery.min.js and v1.2.exe are neither.
		if n >= 2 && (s.suspicious[exts[n-2]] || (s.suspicious[last] && decoyExtensions[exts[n-2]])) {
			res.Flags = append(res.Flags, Flag{
				Type:       models.FlagMalware,
				Confidence: ConfidenceDoubleExt,
				Reason:     fmt.Sprintf("double extension %s%s", exts[n-2], last),
			})
		}
	}

	if !CrossCheck(declaredMime, res.Kind) {
		reason := fmt.Sprintf("declared %s does not match detected %s", NormalizeMime(declaredMime), res.Kind)
		if res.Kind == KindUnknown {
			reason = "unrecognized file signature"
		}
		res.Flags = append(res.Flags, Flag{
			Type:       models.FlagSuspicious,
			Confidence: ConfidenceMimeMismatch,
			Reason:     reason,
		})
	}

	if res.Kind.Executable() && IsImageMime(declaredMime) {
		res.Flags = append(res.Flags, Flag{
			Type:       models.FlagMalware,
			Confidence: ConfidenceExecutableBody,
			Reason:     fmt.Sprintf("%s executable declared as %s", res.Kind, NormalizeMime(declaredMime)),
		})
	}

	res.Flagged = len(res.Flags) > 0
	return res
}
