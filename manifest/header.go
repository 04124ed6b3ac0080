package manifest

import (
	"regexp"
	"strings"
)

// Header is the signature part of a two-part manifest.
//
// The header grammar is an intentionally tiny YAML subset, which reduces
// the parser attack surface on bytes that are read before any signature
// has been checked. The only recognized field is "signature", either as a
// double-quoted scalar or as a block literal:
//
//	signature: "0xabc...:ed25519:bm90IGEgcmVhbCBzaWc="
//
//	signature: |
//	  0xabc...:ed25519:bm90IGEgcmVhbCBzaWc=
//
// For this subset the parser accepts exactly the inputs a full YAML
// parser would, which is covered by an equivalence test.
type Header struct {
	// Signature in its textual form, or "" when the header is empty.
	Signature string
}

var (
	simpleFieldRe = regexp.MustCompile(`^([a-z]+): "([a-zA-Z0-9_ .:+/=-]+)"$`)
	blockFieldRe  = regexp.MustCompile(`^([a-z]+): \|$`)
	blockLineRe   = regexp.MustCompile(`^ {0,2}$|^  (.*)$`)
)

// ParseHeader parses header bytes. Empty input yields an empty header.
func ParseHeader(data []byte) (*Header, error) {
	for _, b := range data {
		if b > 127 {
			return nil, newError(KindHeader, "WL-HDR-001", "header must be ASCII")
		}
	}
	p := &headerParser{lines: splitLines(string(data))}
	fields, err := p.parse("signature")
	if err != nil {
		return nil, err
	}
	return &Header{Signature: fields["signature"]}, nil
}

// Bytes serializes the header. The signature is always rendered as a
// block literal; serialization round-trips through ParseHeader.
func (h *Header) Bytes() []byte {
	if h.Signature == "" {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("signature: |")
	for _, line := range strings.Split(h.Signature, "\n") {
		sb.WriteString("\n  ")
		sb.WriteString(line)
	}
	return []byte(sb.String())
}

type headerParser struct {
	lines []string
	pos   int
}

func (p *headerParser) parse(recognized ...string) (map[string]string, error) {
	result := make(map[string]string)
	for p.pos < len(p.lines) {
		name, value, err := p.parseField()
		if err != nil {
			return nil, err
		}
		known := false
		for _, r := range recognized {
			if name == r {
				known = true
				break
			}
		}
		if !known {
			return nil, newError(KindHeader, "WL-HDR-002", "unexpected header field: "+name)
		}
		if _, dup := result[name]; dup {
			return nil, newError(KindHeader, "WL-HDR-003", "duplicate header field: "+name)
		}
		result[name] = value
	}
	return result, nil
}

func (p *headerParser) parseField() (string, string, error) {
	line := p.lines[p.pos]
	p.pos++

	if m := simpleFieldRe.FindStringSubmatch(line); m != nil {
		return m[1], m[2], nil
	}
	if m := blockFieldRe.FindStringSubmatch(line); m != nil {
		value, err := p.parseBlock()
		if err != nil {
			return "", "", err
		}
		return m[1], value, nil
	}
	return "", "", newError(KindHeader, "WL-HDR-004", "unexpected header line: "+line)
}

// parseBlock consumes a block continuation after "field: |". Lines must
// be indented with exactly two spaces; trailing blank lines are dropped.
func (p *headerParser) parseBlock() (string, error) {
	var parsed []string
	for p.pos < len(p.lines) {
		m := blockLineRe.FindStringSubmatch(p.lines[p.pos])
		if m == nil {
			break
		}
		p.pos++
		parsed = append(parsed, m[1])
	}
	for len(parsed) > 0 && parsed[len(parsed)-1] == "" {
		parsed = parsed[:len(parsed)-1]
	}
	if len(parsed) == 0 {
		return "", newError(KindHeader, "WL-HDR-005", "block literal cannot be empty")
	}
	return strings.Join(parsed, "\n"), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
