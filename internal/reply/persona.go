package reply

import (
	"os"

	"gopkg.in/yaml.v3"
)

// PersonaSpec is the YAML-configured system prompt and sampling style for the
// chat backend.
type PersonaSpec struct {
	System string `yaml:"system"`
	Style  struct {
		Temperature float32 `yaml:"temperature"`
		Language    string  `yaml:"language"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"style"`
}

const defaultSystemPrompt = "Tu es un assistant personnel intelligent, amical et détendu. " +
	"Tu réponds avec clarté et simplicité, en français ou en anglais selon la langue de l'utilisateur. " +
	"Tu fournis des réponses concises et utiles."

// LoadPersona reads the persona spec from path. A missing file yields the
// built-in default persona rather than an error; a malformed file is an error.
func LoadPersona(path string) (PersonaSpec, error) {
	var spec PersonaSpec
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			spec.System = defaultSystemPrompt
			return spec, nil
		}
		return spec, err
	}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return spec, err
	}
	if spec.System == "" {
		spec.System = defaultSystemPrompt
	}
	return spec, nil
}
