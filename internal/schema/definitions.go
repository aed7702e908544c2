package schema

type field struct {
	name        string
	description string
	// prop is the JSON Schema property for this field.
	prop map[string]any
}

type definition struct {
	kind     Kind
	fields   []field
	required []string
}

func (d definition) document() map[string]any {
	props := make(map[string]any, len(d.fields))
	for _, f := range d.fields {
		p := make(map[string]any, len(f.prop)+1)
		for k, v := range f.prop {
			p[k] = v
		}
		if f.description != "" {
			p["description"] = f.description
		}
		props[f.name] = p
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(d.required) > 0 {
		req := make([]any, len(d.required))
		for i, r := range d.required {
			req[i] = r
		}
		doc["required"] = req
	}
	return doc
}

func percent() map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 100}
}

func str() map[string]any {
	return map[string]any{"type": "string"}
}

var big5Traits = []string{"openness", "conscientiousness", "extraversion", "agreeableness", "neuroticism"}

var definitions = []definition{
	{
		kind: Kind16P,
		fields: []field{
			{name: "type", description: "Four-letter type plus variant, e.g. INTJ-A", prop: str()},
			{name: "traits", description: "Trait percentages 0..100: mind, energy, nature, tactics, identity", prop: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mind":     percent(),
					"energy":   percent(),
					"nature":   percent(),
					"tactics":  percent(),
					"identity": percent(),
				},
			}},
			{name: "summary", description: "Short summary of the result", prop: str()},
		},
		required: []string{"type", "traits"},
	},
	{
		kind: KindBig5,
		fields: []field{
			{name: "openness", description: "Openness score 0..100", prop: percent()},
			{name: "conscientiousness", description: "Conscientiousness score 0..100", prop: percent()},
			{name: "extraversion", description: "Extraversion score 0..100", prop: percent()},
			{name: "agreeableness", description: "Agreeableness score 0..100", prop: percent()},
			{name: "neuroticism", description: "Neuroticism score 0..100", prop: percent()},
		},
		required: big5Traits,
	},
	{
		kind: KindKeirsey,
		fields: []field{
			{name: "type", description: "Four-letter MBTI-like code, if shown", prop: str()},
			{name: "temperament", description: "Guardian | Artisan | Idealist | Rational", prop: str()},
			{name: "summary", description: "Short summary of the result", prop: str()},
		},
		required: []string{"type", "temperament"},
	},
	{
		kind: KindGeneric,
		fields: []field{
			{name: "summary", description: "Short summary of the result", prop: str()},
			{name: "type", description: "Primary type label if present", prop: str()},
			{name: "scores", description: "Named scores 0..100 if present", prop: map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number"},
			}},
		},
		required: []string{"summary"},
	},
}
