package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ImageFields lists the document fields that may carry the certificate image, highest priority first.
var ImageFields = []string{"image", "image_url", "imageUrl", "imageURI"}

// BaseURIFields lists the document fields that may carry a base URI for synthesized image names.
var BaseURIFields = []string{"baseURI", "base_uri", "baseTokenURI"}

// TokenIDTrait is the attribute holding a certificate's token id in locally stored documents.
const TokenIDTrait = "Token ID"

// Metadata is a certificate metadata document.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`

	imageRef string
	baseURI  string
}

// Attribute is one trait of a certificate. Values are kept as strings even when the document
// encodes them as numbers or booleans; objects and arrays keep their compact JSON text.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// UnmarshalJSON accepts any JSON value for the attribute value. A trait_type that is not a
// string is left empty.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var raw struct {
		TraitType json.RawMessage `json:"trait_type"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.TraitType = stringValue(raw.TraitType)
	a.Value = ""

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
	case v[0] == '"':
		return json.Unmarshal(v, &a.Value)
	case v[0] == '{' || v[0] == '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return err
		}
		a.Value = buf.String()
	default:
		a.Value = string(v)
	}
	return nil
}

// Parse decodes a metadata document. The document must be a JSON object; fields and attributes
// of an unexpected shape are dropped rather than failing the whole document.
func Parse(data []byte) (*Metadata, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if fields == nil {
		return nil, errors.New("parse metadata: document is null")
	}

	md := Metadata{
		Name:        stringValue(fields["name"]),
		Description: stringValue(fields["description"]),
		Image:       stringValue(fields["image"]),
		Attributes:  parseAttributes(fields["attributes"]),
		imageRef:    firstString(fields, ImageFields),
		baseURI:     firstString(fields, BaseURIFields),
	}
	return &md, nil
}

func parseAttributes(raw json.RawMessage) []Attribute {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Attribute, 0, len(items))
	for _, item := range items {
		var a Attribute
		if err := json.Unmarshal(item, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ImageRef returns the value of the first image field present in the document.
func (m *Metadata) ImageRef() string {
	if m == nil {
		return ""
	}
	return m.imageRef
}

// BaseURI returns the base URI declared by the document, if any.
func (m *Metadata) BaseURI() string {
	if m == nil {
		return ""
	}
	return m.baseURI
}

// Trait returns the value of the named attribute, matched case-insensitively.
func (m *Metadata) Trait(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, a := range m.Attributes {
		if strings.EqualFold(strings.TrimSpace(a.TraitType), name) {
			return a.Value, true
		}
	}
	return "", false
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// firstString returns the first key in order whose value is a non-empty JSON string.
func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringValue(fields[k])); s != "" {
			return s
		}
	}
	return ""
}
