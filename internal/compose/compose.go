package compose

import (
	"encoding/json"
	"fmt"
	"strings"

	"coloringbook/internal/domain"
)

// DefaultNegativePrompt lists the qualities every coloring plate must avoid
// so the output stays printable line art.
const DefaultNegativePrompt = "shadows, gradient, color, photorealistic, watermark, text, signature"

// MandalaNegativePrompt is the narrower exclusion list used for mandalas.
const MandalaNegativePrompt = "shadows, gradient"

const plateInstruction = `Create a simple line art illustration with black lines on a white background, featuring: %s.
The design should have no shadows, no gradients, and no filled-in parts.
The artwork should be composed of clean, bold lines, making it perfect for a coloring book.
Keep the design simple yet engaging, ensuring it's suitable for users to add their own colors and creativity.`

const closingInstruction = "Make it suitable for coloring with clear, well-defined lines."

// Values holds one questionnaire answer, which may be a single selection or
// a multi-select list. It unmarshals from either a JSON string or an array
// of strings.
type Values []string

func (v *Values) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = Values{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("answer must be a string or list of strings")
	}
	*v = Values(many)
	return nil
}

// Answers maps questionnaire ids to the options the user picked.
type Answers map[string]Values

// ComposedPrompt is the final pair of instructions sent to the inference
// provider. It is a pure function of the request that produced it.
type ComposedPrompt struct {
	Instruction         string
	NegativeInstruction string
}

// plateClauses defines the recognized coloring plate answer keys and their
// clause templates, in the fixed order they are appended. Keys outside this
// list are ignored.
var plateClauses = []struct {
	key    string
	format string
}{
	{"complexity", "with %s complexity"},
	{"lineStyle", "using %s lines"},
	{"background", "with %s"},
	{"atmosphere", "in a %s atmosphere"},
}

// Compose builds the provider instruction for the given plate kind.
// rawPrompt must be non-empty after trimming; answers may be empty and
// unrecognized keys never cause an error.
func Compose(kind domain.PlateKind, rawPrompt string, answers Answers) (ComposedPrompt, error) {
	subject := strings.TrimSpace(rawPrompt)
	if subject == "" {
		return ComposedPrompt{}, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if kind == domain.PlateKindMandala {
		return composeMandala(subject, answers), nil
	}
	return composePlate(subject, answers), nil
}

func composePlate(subject string, answers Answers) ComposedPrompt {
	var parts []string
	for _, clause := range plateClauses {
		value := answerPhrase(answers[clause.key])
		if value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(clause.format, value))
	}

	instruction := fmt.Sprintf(plateInstruction, subject)
	if len(parts) > 0 {
		instruction += " Style: " + strings.Join(parts, ", ") + "."
	}
	instruction += " " + closingInstruction

	return ComposedPrompt{
		Instruction:         instruction,
		NegativeInstruction: plateNegative(answers),
	}
}

// plateNegative extends the fixed exclusion list when the user explicitly
// asked for no background.
func plateNegative(answers Answers) string {
	negative := DefaultNegativePrompt
	for _, v := range answers["background"] {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "no background") {
			negative += ", background"
			break
		}
	}
	return negative
}

// answerPhrase normalizes a selection into a short lowercase phrase.
// Questionnaire options carry explanatory parentheticals ("Simple (large
// spaces, basic shapes)") that are stripped before use.
func answerPhrase(values Values) string {
	var cleaned []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if idx := strings.Index(v, "("); idx > 0 {
			v = strings.TrimSpace(v[:idx])
		}
		if v == "" {
			continue
		}
		cleaned = append(cleaned, strings.ToLower(v))
	}
	return strings.Join(cleaned, ", ")
}
