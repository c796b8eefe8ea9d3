package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

// secrets mirrors the deployment secrets file. persona_api_keys maps a
// persona label to either a key or the name of another top-level entry
// holding the key.
type secrets struct {
	PersonaAPIKeys map[string]string `yaml:"persona_api_keys"`
	ServiceAccount any               `yaml:"gcp_service_account"`
	GSheetID       string            `yaml:"gsheet_id"`
	MaxInputChars  int               `yaml:"max_input_chars"`

	entries map[string]any
}

func loadSecrets(path string) (*secrets, error) {
	if path == "" {
		return &secrets{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	return parseSecrets(data)
}

func parseSecrets(data []byte) (*secrets, error) {
	var sec secrets
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec.entries); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	return &sec, nil
}

// personaKeys resolves labels onto canonical personas and follows one level
// of name indirection.
func (s *secrets) personaKeys() (map[persona.ID]string, error) {
	keys := make(map[persona.ID]string, len(s.PersonaAPIKeys))
	for label, ref := range s.PersonaAPIKeys {
		id, ok := persona.Resolve(label)
		if !ok {
			return nil, fmt.Errorf("persona_api_keys: %w: %q", persona.ErrUnresolved, label)
		}
		ref = strings.TrimSpace(ref)
		if value, ok := s.entries[ref].(string); ok {
			ref = strings.TrimSpace(value)
		}
		keys[id] = ref
	}
	return keys, nil
}
