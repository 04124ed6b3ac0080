// Package wlpath parses Wildland path strings.
//
// A Wildland path has the form
//
//	[wildland:][owner][@hint]:(part:)+[file_path]
//
// where owner is a key fingerprint or an @alias, hint is an optional
// https{...} location of the owner's user manifest, parts name bridges
// or containers along the way, and an optional trailing part addresses
// a file inside the final container.
package wlpath

import (
	"net/url"
	"regexp"
	"strings"
)

// Prefix is the URL scheme prefix accepted and produced in canonical form.
const Prefix = "wildland:"

var (
	pathRe        = regexp.MustCompile(`^(wildland:)?(0x[0-9a-f]+(@https\{.*\})?|@[a-z-]+)?:`)
	fingerprintRe = regexp.MustCompile(`^0x[0-9a-f]+$`)
	aliasRe       = regexp.MustCompile(`^@[a-z-]+$`)
	hintRe        = regexp.MustCompile(`^(0x[0-9a-f]+)@https\{(.*)\}$`)
)

// PathError reports a malformed Wildland path string.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return "wildland path " + e.Path + ": " + e.Reason
}

// Path is a parsed Wildland path.
type Path struct {
	// Owner is a fingerprint ("0x...") or an alias ("@default", ...).
	// Empty means the default owner.
	Owner string

	// Hint is a resolvable https URL to the owner's user manifest,
	// decoded from the https{...} form. Empty when absent.
	Hint string

	// Parts are the intermediate hops, each an absolute path or "*".
	// Always non-empty.
	Parts []string

	// File is the path of a file inside the final container, empty when
	// the path addresses the container itself.
	File string
}

// Match reports whether s should be recognized as a Wildland path, as
// opposed to a local path or a URL. Match succeeding does not guarantee
// that Parse will.
func Match(s string) bool {
	return pathRe.MatchString(s)
}

// Parse constructs a Path from its string form, with or without the
// "wildland:" prefix.
func Parse(s string) (*Path, error) {
	orig := s
	s = strings.TrimPrefix(s, Prefix)

	if !strings.Contains(s, ":") {
		return nil, &PathError{orig, "the path has to start with owner and ':'"}
	}
	split := strings.Split(s, ":")

	var owner, hint string
	switch first := split[0]; {
	case first == "":
	case fingerprintRe.MatchString(first) || aliasRe.MatchString(first):
		owner = first
	default:
		m := hintRe.FindStringSubmatch(first)
		if m == nil {
			if strings.Contains(first, "@https") && !strings.Contains(first, "0x") {
				return nil, &PathError{orig, "hint field requires explicit owner: " + first}
			}
			return nil, &PathError{orig, "unrecognized owner field: " + first}
		}
		owner = m[1]
		decoded, err := url.PathUnescape(m[2])
		if err != nil {
			return nil, &PathError{orig, "bad hint encoding: " + m[2]}
		}
		hint = "https://" + decoded
	}

	var parts []string
	for _, part := range split[1 : len(split)-1] {
		if part != "*" && !strings.HasPrefix(part, "/") {
			return nil, &PathError{orig, "unrecognized absolute path: " + part}
		}
		parts = append(parts, part)
	}

	var file string
	if last := split[len(split)-1]; last != "" {
		if !strings.HasPrefix(last, "/") {
			return nil, &PathError{orig, "unrecognized absolute path: " + last}
		}
		file = last
	}

	if len(parts) == 0 {
		return nil, &PathError{orig, "path has no containers, did you forget a ':' at the end?"}
	}

	return &Path{Owner: owner, Hint: hint, Parts: parts, File: file}, nil
}

// HasExplicitOrDefaultOwner reports whether the owner is a fingerprint,
// absent, or the @default alias, i.e. anything but a custom alias.
func (p *Path) HasExplicitOrDefaultOwner() bool {
	return p.Owner == "" || p.Owner == "@default" || strings.HasPrefix(p.Owner, "0x")
}

// Append adds more colon-separated parts to the path.
func (p *Path) Append(s string) {
	for _, part := range strings.Split(s, ":") {
		if part != "" {
			p.Parts = append(p.Parts, part)
		}
	}
}

// String renders the path without the "wildland:" prefix.
func (p *Path) String() string {
	var b strings.Builder
	b.WriteString(p.Owner)
	if p.Hint != "" {
		b.WriteString("@https{")
		b.WriteString(strings.TrimPrefix(p.Hint, "https://"))
		b.WriteString("}")
	}
	b.WriteString(":")
	b.WriteString(strings.Join(p.Parts, ":"))
	b.WriteString(":")
	b.WriteString(p.File)
	return b.String()
}

// Canonical parses s and renders its canonical form, including the
// "wildland:" prefix.
func Canonical(s string) (string, error) {
	p, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Prefix + p.String(), nil
}
