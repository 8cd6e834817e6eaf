package compose

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const mandalaInstruction = "Create a black and white mandala coloring page with clean lines and high contrast on a white background, centered on %s."

// mandalaKeys is the fixed order in which questionnaire answers are folded
// into the mandala instruction. Keys outside this list are ignored.
var mandalaKeys = []string{
	"mood",
	"emotions",
	"emotionalIntensity",
	"emotionalQuality",
	"energyLevel",
	"bodyTension",
	"thoughtPattern",
	"complexity",
	"detailLevel",
	"spiritualSymbols",
	"spiritualIntention",
	"naturalElements",
	"timeOfDay",
	"style",
}

var titleCaser = cases.Title(language.English)

func composeMandala(subject string, answers Answers) ComposedPrompt {
	lines := []string{fmt.Sprintf(mandalaInstruction, subject)}
	for _, key := range mandalaKeys {
		value := answerPhrase(answers[key])
		if value == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s.", keyLabel(key), value))
	}
	lines = append(lines, closingInstruction)
	return ComposedPrompt{
		Instruction:         strings.Join(lines, "\n"),
		NegativeInstruction: MandalaNegativePrompt,
	}
}

// keyLabel turns a camelCase questionnaire id into a readable section label,
// e.g. "spiritualSymbols" becomes "Spiritual Symbols".
func keyLabel(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return titleCaser.String(b.String())
}
