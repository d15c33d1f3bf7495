package refs

import (
	"regexp"
	"slices"
	"strings"
)

// Extraction is the outcome of scanning a narrative. Steps lists every
// decision taken, in order, for diagnostics.
type Extraction struct {
	Created   []Mention `json:"created"`
	Mentioned []Mention `json:"mentioned"`
	Steps     []Step    `json:"-"`
}

// All returns created mentions followed by mentioned ones.
func (e Extraction) All() []Mention {
	out := make([]Mention, 0, len(e.Created)+len(e.Mentioned))
	out = append(out, e.Created...)
	return append(out, e.Mentioned...)
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return len(e.Created) == 0 && len(e.Mentioned) == 0
}

// Step outcomes.
const (
	StepCreated        = "created"
	StepMentioned      = "mentioned"
	StepDuplicate      = "duplicate"
	StepAlreadyCreated = "already_created"
)

// Step is one extraction decision.
type Step struct {
	Outcome string
	Kind    Kind
	Code    string
	Pattern string
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// The phrasing around a code is matched case-insensitively and tolerates
// missing accents. The code itself is always upper case.
const (
	lostCode  = `\b(?-i:([A-Z0-9]{2,10}-OP-\d{4}-\d+))\b`
	foundCode = `\b(?-i:([A-Z0-9]{2,10}-OT-\d{4}-\d+))\b`

	created  = `(?:cr[eéè]{1,2}e?s?|enregistr[eé]e?s?|ouverte?s?|[eé]tablie?s?|saisie?s?)`
	declared = `(?:d[eé]claration|fiche|dossier|proc[eè]s[- ]verbal|pv)`
	label    = `\b(?:r[eé]f[eé]rence|r[eé]f\.?|num[eé]ro|n[°o]\.?|code)`
	gap      = `[\s:()\[\]"'«»,.#-]{0,8}`
)

func compile(name, expr string) pattern {
	return pattern{name: name, re: regexp.MustCompile(`(?i)` + expr)}
}

type cascade struct {
	kind     Kind
	created  []pattern
	mentions []pattern
}

// cascades are ordered by kind, then by specificity within each list.
var cascades = []cascade{
	{
		kind: KindLostItem,
		created: []pattern{
			compile("lost.declaration_created",
				declared+`\s+(?:d['’]\s*un\s+|de\s+l['’]\s*|d['’]\s*)?objets?\s+perdus?\s+(?:a\s+[eé]t[eé]\s+|est\s+)?`+created+gap+`(?:sous\s+(?:le\s+)?`+label+gap+`)?`+lostCode),
			compile("lost.created_under_label",
				`objets?\s+perdus?\s+(?:a\s+[eé]t[eé]\s+|est\s+)?`+created+`\s+sous\s+(?:le\s+|la\s+)?`+label+gap+lostCode),
			compile("lost.creation_of",
				`(?:cr[eé]ation|nouvelle\s+`+declared+`|enregistrement)\s+(?:d['’]\s*un\s+|de\s+l['’]\s*|d['’]\s*)?objets?\s+perdus?`+gap+lostCode),
			compile("lost.created_suffix",
				lostCode+gap+`(?:a\s+[eé]t[eé]\s+|vient\s+d['’]\s*[eê]tre\s+)`+created),
		},
		mentions: []pattern{
			compile("lost.labelled_reference",
				label+`\s+(?:de\s+(?:la\s+|l['’]\s*)?)?(?:`+declared+`\s+)?(?:d['’]\s*)?(?:objets?\s+)?perdus?`+gap+lostCode),
			compile("lost.labelled_code", label+gap+lostCode),
			compile("lost.bare_code", lostCode),
		},
	},
	{
		kind: KindFoundItem,
		created: []pattern{
			compile("found.declaration_created",
				declared+`\s+(?:d['’]\s*un\s+|de\s+l['’]\s*|d['’]\s*)?objets?\s+trouv[eé]s?\s+(?:a\s+[eé]t[eé]\s+|est\s+)?`+created+gap+`(?:sous\s+(?:le\s+)?`+label+gap+`)?`+foundCode),
			compile("found.created_under_label",
				`objets?\s+trouv[eé]s?\s+(?:a\s+[eé]t[eé]\s+|est\s+)?`+created+`\s+sous\s+(?:le\s+|la\s+)?`+label+gap+foundCode),
			compile("found.creation_of",
				`(?:cr[eé]ation|nouvelle\s+`+declared+`|enregistrement)\s+(?:d['’]\s*un\s+|de\s+l['’]\s*|d['’]\s*)?objets?\s+trouv[eé]s?`+gap+foundCode),
			compile("found.created_suffix",
				foundCode+gap+`(?:a\s+[eé]t[eé]\s+|vient\s+d['’]\s*[eê]tre\s+)`+created),
		},
		mentions: []pattern{
			compile("found.labelled_reference",
				label+`\s+(?:de\s+(?:la\s+|l['’]\s*)?)?(?:`+declared+`\s+)?(?:d['’]\s*)?(?:objets?\s+)?trouv[eé]s?`+gap+foundCode),
			compile("found.labelled_code", label+gap+foundCode),
			compile("found.bare_code", foundCode),
		},
	},
}

// Extract scans text for record codes. Codes in creation phrasing come out
// as created; any other occurrence of a code comes out as mentioned, unless
// the same code was already created. Each list is de-duplicated by exact
// code, keeping first-seen order. Extract is pure.
func Extract(text string) Extraction {
	var out Extraction
	if strings.TrimSpace(text) == "" {
		return out
	}

	createdCodes := make(map[Kind][]string, len(cascades))
	for _, c := range cascades {
		for _, p := range c.created {
			for _, code := range matches(p.re, text) {
				if slices.Contains(createdCodes[c.kind], code) {
					out.Steps = append(out.Steps, Step{Outcome: StepDuplicate, Kind: c.kind, Code: code, Pattern: p.name})
					continue
				}
				createdCodes[c.kind] = append(createdCodes[c.kind], code)
				out.Created = append(out.Created, Mention{Kind: c.kind, Code: code, Provenance: ProvenanceCreated, Pattern: p.name})
				out.Steps = append(out.Steps, Step{Outcome: StepCreated, Kind: c.kind, Code: code, Pattern: p.name})
			}
		}
	}

	var mentioned []string
	for _, c := range cascades {
		for _, p := range c.mentions {
			for _, code := range matches(p.re, text) {
				switch {
				case slices.Contains(createdCodes[c.kind], code):
					out.Steps = append(out.Steps, Step{Outcome: StepAlreadyCreated, Kind: c.kind, Code: code, Pattern: p.name})
				case slices.Contains(mentioned, code):
					out.Steps = append(out.Steps, Step{Outcome: StepDuplicate, Kind: c.kind, Code: code, Pattern: p.name})
				default:
					mentioned = append(mentioned, code)
					out.Mentioned = append(out.Mentioned, Mention{Kind: c.kind, Code: code, Provenance: ProvenanceMentioned, Pattern: p.name})
					out.Steps = append(out.Steps, Step{Outcome: StepMentioned, Kind: c.kind, Code: code, Pattern: p.name})
				}
			}
		}
	}
	return out
}

func matches(re *regexp.Regexp, text string) []string {
	var codes []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 && m[1] != "" {
			codes = append(codes, m[1])
		}
	}
	return codes
}
