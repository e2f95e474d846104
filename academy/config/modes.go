package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode is a chat persona: the system prompt sent ahead of the conversation.
type Mode struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	Model        string `yaml:"model,omitempty"`
}

type Modes map[string]Mode

const DefaultMode = "tutor"

var builtinModes = Modes{
	"tutor": {
		Name:         "tutor",
		SystemPrompt: "You are a patient course tutor. Answer the student's question using the course context when it is given, and keep explanations short and concrete.",
	},
	"coach_assistant": {
		Name:         "coach_assistant",
		SystemPrompt: "You help a coach build and run an online academy: course outlines, lesson ideas, emails and landing page copy. Be practical and specific.",
	},
	"support": {
		Name:         "support",
		SystemPrompt: "You are the support assistant of an online academy platform. Help with enrollment, access and billing questions. If you cannot resolve an issue, suggest opening a support ticket.",
	},
	"course_builder": {
		Name:         "course_builder",
		SystemPrompt: "You design course structures. Propose modules and lessons with clear titles and one-line descriptions.",
	},
}

// DefaultModes returns a copy of the built-in modes.
func DefaultModes() Modes {
	out := make(Modes, len(builtinModes))
	for k, v := range builtinModes {
		out[k] = v
	}
	return out
}

// LoadModes reads a YAML document of the form
//
//	modes:
//	  tutor:
//	    system_prompt: "..."
//
// and overlays it on the built-in modes. An empty path returns the defaults.
func LoadModes(path string) (Modes, error) {
	modes := DefaultModes()
	if path == "" {
		return modes, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read modes file: %w", err)
	}
	var doc struct {
		Modes map[string]Mode `yaml:"modes"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse modes file: %w", err)
	}
	for key, m := range doc.Modes {
		if m.Name == "" {
			m.Name = key
		}
		if m.SystemPrompt == "" {
			if base, ok := modes[key]; ok {
				m.SystemPrompt = base.SystemPrompt
			}
		}
		modes[key] = m
	}
	return modes, nil
}

// Get falls back to the default mode for unknown names.
func (m Modes) Get(name string) Mode {
	if mode, ok := m[name]; ok {
		return mode
	}
	return m[DefaultMode]
}
