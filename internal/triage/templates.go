package triage

import (
	"regexp"
	"strings"

	"github.com/sahay/backend/internal/core"
)

// Disclaimer must appear verbatim in every guidance text. Output that loses
// it is replaced by the safe fallback.
const Disclaimer = "guidance, not a diagnosis"

// forbiddenTerms are diagnosis claims the guidance text must never make.
var forbiddenTerms = regexp.MustCompile(`(?i)\b(you\s+have|diagnos|confirmed\s+case|it\s+is\s+(definitely|certainly)|prescri(be|ption)|you\s+are\s+suffering\s+from)\b`)

// guidance templates keyed by (category, language). English is the fallback
// language for any untranslated pair.
var guidanceTemplates = map[core.TriageCategory]map[string]string{
	core.TriageEmergency: {
		"en": "Your symptoms may need urgent medical attention. Please go to the nearest emergency facility or call 108 now. If possible, have someone accompany you. This is guidance, not a diagnosis.",
		"hi": "Aapke lakshan gambhir ho sakte hain. Kripya turant nazdeeki aapatkaleen kendra jayen ya 108 par call karen. Ho sake to kisi ko saath le jayen. This is guidance, not a diagnosis.",
	},
	core.TriagePHC: {
		"en": "Your symptoms should be checked by a health worker soon. Please visit your nearest primary health centre within 24 hours, and return sooner if things get worse. This is guidance, not a diagnosis.",
		"hi": "Aapke lakshan ki jaanch jaldi honi chahiye. Kripya 24 ghante ke andar nazdeeki prathmik swasthya kendra jayen; bigadne par turant jayen. This is guidance, not a diagnosis.",
	},
	core.TriageSelfCare: {
		"en": "Your symptoms can usually be managed at home with rest and fluids. Watch for worsening signs such as high fever, severe pain or breathlessness, and seek care if they appear. This is guidance, not a diagnosis.",
		"hi": "Aapke lakshan aam taur par aaram aur tarel padarthon se ghar par sambhale ja sakte hain. Tez bukhar, tez dard ya saans ki dikkat dikhe to turant swasthya kendra jayen. This is guidance, not a diagnosis.",
	},
}

// fallbackGuidance is the safe template used when a rendered text fails the
// output checks.
const fallbackGuidance = "Please consult a qualified health worker about your symptoms. If they are severe or getting worse, go to the nearest health facility without delay. This is guidance, not a diagnosis."

// renderGuidance picks the template for (category, language) and applies the
// output safety checks.
func renderGuidance(category core.TriageCategory, language string) string {
	byLang, ok := guidanceTemplates[category]
	if !ok {
		return fallbackGuidance
	}
	text, ok := byLang[language]
	if !ok {
		text = byLang["en"]
	}
	return safeGuidance(text)
}

// safeGuidance enforces the two output invariants: the disclaimer is present
// and no diagnosis claim appears. Violations return the fallback.
func safeGuidance(text string) string {
	if !strings.Contains(strings.ToLower(text), Disclaimer) {
		return fallbackGuidance
	}
	if forbiddenTerms.MatchString(text) {
		return fallbackGuidance
	}
	return text
}
