// Package uri implements viking:// URI parsing and manipulation.
//
// Every context object in OpenViking is addressed by a URI of the form
// viking://<scope>/<path>. URIs are case-sensitive, Unicode NFC normalized,
// and a trailing slash denotes a directory.
package uri

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/openviking/openviking/pkg/errdefs"
)

const Scheme = "viking://"

// Scope is the top-level namespace of a URI.
type Scope string

const (
	ScopeResources Scope = "resources"
	ScopeUser      Scope = "user"
	ScopeAgent     Scope = "agent"
	ScopeSession   Scope = "session"
	ScopeQueue     Scope = "queue"
	ScopeTemp      Scope = "temp"
)

var validScopes = map[Scope]bool{
	ScopeResources: true,
	ScopeUser:      true,
	ScopeAgent:     true,
	ScopeSession:   true,
	ScopeQueue:     true,
	ScopeTemp:      true,
}

// URI is a parsed, normalized viking:// URI.
type URI struct {
	scope    Scope
	segments []string
	isDir    bool
}

// Parse validates and normalizes a viking:// URI string.
func Parse(raw string) (URI, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return URI{}, errdefs.InvalidInput(raw, fmt.Errorf("URI must start with %q", Scheme))
	}

	rest := norm.NFC.String(raw[len(Scheme):])
	isDir := strings.HasSuffix(rest, "/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return URI{}, errdefs.InvalidInput(raw, fmt.Errorf("missing scope"))
	}

	parts := strings.Split(rest, "/")
	scope := Scope(parts[0])
	if !validScopes[scope] {
		return URI{}, errdefs.InvalidInput(raw, fmt.Errorf("invalid scope %q", parts[0]))
	}

	segments := parts[1:]
	for _, seg := range segments {
		if seg == "" {
			return URI{}, errdefs.InvalidInput(raw, fmt.Errorf("empty path segment"))
		}
		for _, r := range seg {
			if r < 0x20 || r == 0x7f {
				return URI{}, errdefs.InvalidInput(raw, fmt.Errorf("control character in segment %q", seg))
			}
		}
	}

	return URI{scope: scope, segments: segments, isDir: isDir || len(segments) == 0}, nil
}

// MustParse is Parse for compile-time-constant URIs.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// IsValid reports whether raw parses as a viking URI.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Build assembles a URI from a scope and path parts.
func Build(scope Scope, parts ...string) URI {
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		segments = append(segments, strings.Split(norm.NFC.String(p), "/")...)
	}
	return URI{scope: scope, segments: segments}
}

func (u URI) Scope() Scope { return u.scope }

// Segments returns the path segments below the scope.
func (u URI) Segments() []string { return u.segments }

// Name returns the last path segment, or the scope at scope root.
func (u URI) Name() string {
	if len(u.segments) == 0 {
		return string(u.scope)
	}
	return u.segments[len(u.segments)-1]
}

// Depth is the number of segments below the scope root.
func (u URI) Depth() int { return len(u.segments) }

// IsScopeRoot reports whether the URI has no path below the scope.
func (u URI) IsScopeRoot() bool { return len(u.segments) == 0 }

// String renders the canonical URI without a trailing slash.
func (u URI) String() string {
	if len(u.segments) == 0 {
		return Scheme + string(u.scope)
	}
	return Scheme + string(u.scope) + "/" + strings.Join(u.segments, "/")
}

// StorePath is the AGFS path of the URI: the scope plus segments, without
// the scheme.
func (u URI) StorePath() string {
	if len(u.segments) == 0 {
		return string(u.scope)
	}
	return string(u.scope) + "/" + strings.Join(u.segments, "/")
}

// Join appends path parts to the URI.
func (u URI) Join(parts ...string) URI {
	segments := append([]string{}, u.segments...)
	for _, p := range parts {
		p = strings.Trim(norm.NFC.String(p), "/")
		if p == "" {
			continue
		}
		segments = append(segments, strings.Split(p, "/")...)
	}
	return URI{scope: u.scope, segments: segments}
}

// Parent returns the URI one level up and false at the scope root.
func (u URI) Parent() (URI, bool) {
	if len(u.segments) == 0 {
		return URI{}, false
	}
	return URI{scope: u.scope, segments: u.segments[:len(u.segments)-1]}, true
}

// ParentString returns the parent URI string, or "" at scope root.
func (u URI) ParentString() string {
	p, ok := u.Parent()
	if !ok {
		return ""
	}
	return p.String()
}

// HasPrefix reports whether u equals prefix or lives under it.
func (u URI) HasPrefix(prefix URI) bool {
	if u.scope != prefix.scope || len(u.segments) < len(prefix.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if u.segments[i] != seg {
			return false
		}
	}
	return true
}

// HasPrefixString is HasPrefix over raw strings, matching on segment
// boundaries so that "a/bc" does not match prefix "a/b".
func HasPrefixString(u, prefix string) bool {
	if u == prefix {
		return true
	}
	return strings.HasPrefix(u, strings.TrimSuffix(prefix, "/")+"/")
}

// Rebase replaces the oldBase prefix of u with newBase.
func Rebase(u, oldBase, newBase string) string {
	if !HasPrefixString(u, oldBase) {
		return u
	}
	if u == oldBase {
		return newBase
	}
	return newBase + u[len(oldBase):]
}

const maxSegmentBytes = 120

// SanitizeSegment makes text safe for use as a URI segment: disallowed
// characters are dropped, whitespace collapses to "_", and the result is
// truncated to 120 bytes of UTF-8 on a rune boundary.
func SanitizeSegment(text string) string {
	text = norm.NFC.String(text)
	var b strings.Builder
	lastUnderscore := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		case r == '/' || r < 0x20 || r == 0x7f:
			// dropped
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	s := strings.Trim(b.String(), "_.")
	for len(s) > maxSegmentBytes {
		_, size := lastRune(s)
		s = s[:len(s)-size]
	}
	s = strings.Trim(s, "_.")
	if s == "" {
		return "section"
	}
	return s
}

func lastRune(s string) (rune, int) {
	for i := len(s) - 1; i >= 0; i-- {
		if (s[i] & 0xC0) != 0x80 {
			r := []rune(s[i:])
			return r[0], len(s) - i
		}
	}
	return 0, 1
}

// NewTemp returns a fresh ingestion-private temp URI like
// viking://temp/01021504_3f2a9c.
func NewTemp() URI {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	stamp := time.Now().Format("01021504")
	return Build(ScopeTemp, stamp+"_"+id)
}
