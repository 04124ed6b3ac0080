// Package manifest implements the two-part Wildland manifest format:
// a restricted signature header, a "---" document separator, and a YAML
// body describing a user, container, storage, or bridge.
//
// Parsing and trust are deliberately separate properties. A manifest can
// always be split and its body decoded (to learn the declared owner, for
// error reporting); whether it is trusted is decided later against a
// caller-supplied key lookup and storage trust context.
package manifest

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	headerSeparator      = []byte("\n---\n")
	headerSeparatorEmpty = []byte("---\n")
)

// CurrentVersion is the manifest format version this codec produces.
const CurrentVersion = "1"

// Kind discriminates manifest bodies.
type Kind string

const (
	KindUser      Kind = "user"
	KindContainer Kind = "container"
	KindStorage   Kind = "storage"
	KindBridge    Kind = "bridge"
)

// Manifest is a parsed manifest. Body holds the exact bytes the signature
// covers; Fields is the decoded YAML document.
type Manifest struct {
	// Signature in textual form, "" for an unsigned manifest.
	Signature string

	Kind  Kind
	Owner string

	// Body is the raw body bytes after the header separator.
	Body []byte

	// Fields is the decoded body.
	Fields map[string]any

	// Trusted is set once the manifest passed signature verification, or
	// was explicitly accepted as unsigned from a trusted storage.
	Trusted bool

	// Unsigned marks a manifest accepted without a signature.
	Unsigned bool
}

// Split splits manifest bytes into header and body parts. A manifest
// beginning directly with "---" has an empty header.
func Split(data []byte) (header, body []byte, err error) {
	if bytes.HasPrefix(data, headerSeparatorEmpty) {
		return nil, data[len(headerSeparatorEmpty):], nil
	}
	idx := bytes.Index(data, headerSeparator)
	if idx < 0 {
		return nil, nil, newError(KindMalformed, "WL-MAN-001", "manifest separator not found")
	}
	return data[:idx], data[idx+len(headerSeparator):], nil
}

// Parse splits and decodes manifest bytes without any trust decision.
// The result always has Trusted == false; use Load for the full path.
func Parse(data []byte) (*Manifest, error) {
	headerData, body, err := Split(data)
	if err != nil {
		return nil, err
	}
	header, err := ParseHeader(headerData)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := yaml.Unmarshal(body, &fields); err != nil {
		return nil, wrapError(KindMalformed, "WL-MAN-002", "manifest body parse error", err)
	}
	if fields == nil {
		return nil, newError(KindMalformed, "WL-MAN-003", "manifest body is empty")
	}

	m := &Manifest{
		Signature: header.Signature,
		Body:      body,
		Fields:    fields,
	}
	m.Owner, _ = fields["owner"].(string)
	if object, ok := fields["object"].(string); ok {
		m.Kind = Kind(object)
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Bytes serializes the manifest, including its header.
func (m *Manifest) Bytes() ([]byte, error) {
	if m.Signature == "" && !m.Unsigned {
		return nil, newError(KindSignature, "WL-MAN-004", "manifest not signed")
	}
	header := Header{Signature: m.Signature}
	var out bytes.Buffer
	if hb := header.Bytes(); len(hb) > 0 {
		out.Write(hb)
		out.Write(headerSeparator)
	} else {
		out.Write(headerSeparatorEmpty)
	}
	out.Write(m.Body)
	return out.Bytes(), nil
}

func (m *Manifest) describe() string {
	return fmt.Sprintf("%s manifest of %s", m.Kind, m.Owner)
}
