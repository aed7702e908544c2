// Package schema maps assessment type slugs to the output contract each
// extraction provider must satisfy.
package schema

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/cases"
)

// Kind identifies one of the built-in result schemas.
type Kind string

const (
	Kind16P     Kind = "16p"
	KindBig5    Kind = "big5"
	KindKeirsey Kind = "keirsey"
	KindGeneric Kind = "generic_assessment"
)

var aliases = map[string]Kind{
	"16p":             Kind16P,
	"16personalities": Kind16P,
	"mbti":            Kind16P,
	"myersbriggs":     Kind16P,
	"big5":            KindBig5,
	"ocean":           KindBig5,
	"keirsey":         KindKeirsey,
}

var folder = cases.Fold()

// Normalize case-folds slug and drops everything outside [a-z0-9].
func Normalize(slug string) string {
	folded := folder.String(slug)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KindFor returns the schema kind a slug maps to. Unknown slugs map to
// KindGeneric.
func KindFor(slug string) Kind {
	if k, ok := aliases[Normalize(slug)]; ok {
		return k
	}
	return KindGeneric
}

// Schema is a compiled result contract.
type Schema struct {
	Kind Kind
	// Document is the JSON Schema handed to providers verbatim.
	Document map[string]any
	// Fields holds per-field descriptions used as shape hints in prompts.
	Fields map[string]string

	compiled *jsonschema.Schema
}

// Validate checks obj against the compiled schema.
func (s *Schema) Validate(obj map[string]any) error {
	if obj == nil {
		return eris.New("schema: nil object")
	}
	// Round-trip so numeric types match what the validator expects.
	raw, err := json.Marshal(obj)
	if err != nil {
		return eris.Wrap(err, "schema: marshal object")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return eris.Wrap(err, "schema: unmarshal object")
	}
	if err := s.compiled.Validate(v); err != nil {
		return eris.Wrapf(err, "schema: %s validation", s.Kind)
	}
	return nil
}

// DocumentJSON returns the schema document as indented JSON.
func (s *Schema) DocumentJSON() string {
	b, _ := json.MarshalIndent(s.Document, "", "  ")
	return string(b)
}

// Hint renders the field descriptions as a bullet list for prompts.
func (s *Schema) Hint() string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(s.Fields[name])
		b.WriteString("\n")
	}
	return b.String()
}

// Registry resolves slugs to compiled schemas.
type Registry struct {
	schemas map[Kind]*Schema
}

// NewRegistry compiles the built-in schemas.
func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: make(map[Kind]*Schema, len(definitions))}
	for _, def := range definitions {
		s, err := compile(def)
		if err != nil {
			return nil, err
		}
		r.schemas[def.kind] = s
	}
	return r, nil
}

// Resolve returns the schema for slug. It never returns nil: unknown or
// empty slugs get the generic schema.
func (r *Registry) Resolve(slug string) *Schema {
	if s, ok := r.schemas[KindFor(slug)]; ok {
		return s
	}
	return r.schemas[KindGeneric]
}

// Kinds lists the registered kinds in a stable order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.schemas))
	for k := range r.schemas {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func compile(def definition) (*Schema, error) {
	doc := def.document()
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: marshal %s", def.kind)
	}

	url := string(def.kind) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, eris.Wrapf(err, "schema: add %s", def.kind)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: compile %s", def.kind)
	}

	fields := make(map[string]string, len(def.fields))
	for _, f := range def.fields {
		fields[f.name] = f.description
	}
	return &Schema{
		Kind:     def.kind,
		Document: doc,
		Fields:   fields,
		compiled: compiled,
	}, nil
}
