package triage

import (
	"regexp"
	"strings"
)

// redFlagRule maps symptom phrasing to a canonical red-flag name. Rules are
// evaluated in order and every match is collected; one match is enough for
// the emergency category.
type redFlagRule struct {
	Name     string
	patterns []*regexp.Regexp
}

func compileRules(specs []ruleSpec) []redFlagRule {
	rules := make([]redFlagRule, 0, len(specs))
	for _, s := range specs {
		r := redFlagRule{Name: s.name}
		for _, p := range s.patterns {
			r.patterns = append(r.patterns, regexp.MustCompile(`(?i)`+p))
		}
		rules = append(rules, r)
	}
	return rules
}

type ruleSpec struct {
	name     string
	patterns []string
}

// Canonical red-flag names are a stable vocabulary shared with analytics and
// the clinical review board; renaming one is a breaking change.
var redFlagSpecs = []ruleSpec{
	{"chest_pain", []string{
		`chest\s+pain`, `pain\s+in\s+(my\s+|the\s+)?chest`, `crushing\s+pain`, `chest\s+tightness`,
	}},
	{"breathing_difficulty", []string{
		`(can'?t|cannot|difficult(y)?|trouble|hard)\s+(to\s+)?breath`, `short(ness)?\s+of\s+breath`, `gasping`,
	}},
	{"unconscious", []string{
		`unconscious`, `not\s+(waking|responding)`, `passed\s+out`, `fainted`, `unresponsive`,
	}},
	{"seizure", []string{
		`seizure`, `convuls`, `\bfits?\b`, `shaking\s+uncontrollably`,
	}},
	{"severe_bleeding", []string{
		`(severe|heavy|uncontrolled|won'?t\s+stop)\s+bleed`, `bleeding\s+(a\s+lot|heavily|won'?t\s+stop)`,
	}},
	{"stroke_signs", []string{
		`face\s+droop`, `slurred\s+speech`, `(one|left|right)\s+side.*(weak|numb)`, `sudden\s+(weakness|numbness)`,
	}},
	{"self_harm", []string{
		`(hurt|kill|harm)(ing)?\s+(myself|themselves|himself|herself)`, `suicid`, `end(ing)?\s+my\s+life`, `self.?harm`,
	}},
	{"fever_stiff_neck", []string{
		`fever.*stiff\s+neck`, `stiff\s+neck.*fever`, `neck\s+stiffness.*fever`,
	}},
	{"pregnancy_bleeding", []string{
		`pregnan.*bleed`, `bleed.*pregnan`, `spotting.*pregnan`,
	}},
}

// phcRules route non-emergency symptoms that still need an in-person visit.
var phcSpecs = []ruleSpec{
	{"persistent_fever", []string{`fever.*(3|three|4|four|5|five|more)\s+days`, `fever\s+(not|isn'?t)\s+going`}},
	{"dehydration", []string{`(vomit|loose\s+motion|diarr).*(can'?t|cannot|unable).*(drink|keep)`, `very\s+(weak|dizzy)`, `no\s+urine`}},
	{"severe_pain", []string{`severe\s+(abdominal|stomach|head)\s*ache?`, `unbearable\s+pain`, `worst\s+(headache|pain)`}},
	{"infant_symptoms", []string{`(baby|infant|newborn).*(fever|not\s+feeding|vomit)`, `child.*(high\s+fever|very\s+weak)`}},
	{"wound_infection", []string{`(wound|cut|injury).*(pus|infected|swelling|red)`, `not\s+healing`}},
}

// matchRules returns canonical names of all matching rules, in rule order,
// deduplicated.
func matchRules(rules []redFlagRule, text string) []string {
	text = strings.ToLower(text)
	var out []string
	seen := make(map[string]bool)
	for _, r := range rules {
		if seen[r.Name] {
			continue
		}
		for _, p := range r.patterns {
			if p.MatchString(text) {
				out = append(out, r.Name)
				seen[r.Name] = true
				break
			}
		}
	}
	return out
}
