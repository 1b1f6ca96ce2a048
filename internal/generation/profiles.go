package generation

import (
	"fmt"
	"maps"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/ashureev/tdd-mentor/internal/oracle"
)

// ContentType identifies what the pipeline generates.
type ContentType string

// Content types.
const (
	UserStories            ContentType = "user_stories"
	TestProposals          ContentType = "test_proposals"
	RefactoringSuggestions ContentType = "refactoring_suggestions"
)

// ContentTypes lists every content type.
var ContentTypes = []ContentType{UserStories, TestProposals, RefactoringSuggestions}

// Label is the human readable name used in warnings.
func (c ContentType) Label() string {
	switch c {
	case UserStories:
		return "user stories"
	case TestProposals:
		return "test proposals"
	case RefactoringSuggestions:
		return "refactoring suggestions"
	}
	return string(c)
}

// Profile holds the prompts and model parameters for one content type.
type Profile struct {
	SystemPrompt      string         `koanf:"system_prompt"`
	InstructionPrompt string         `koanf:"instruction_prompt"`
	SelectionPrompt   string         `koanf:"selection_prompt"`
	Options           oracle.Options `koanf:"options"`
}

// Profiles maps content types to their profile.
type Profiles map[ContentType]Profile

func defaultOptions() oracle.Options {
	o := oracle.DefaultOptions()
	o.Format = oracle.FormatJSON
	return o
}

// DefaultProfiles returns the built-in prompts.
func DefaultProfiles() Profiles {
	return Profiles{
		UserStories: {
			SystemPrompt: "You are an expert in software requirements analysis. Your job is to analyse the project " +
				"context and produce 10 realistic, implementable user stories.",
			InstructionPrompt: "Analyse the project context and propose 10 user stories grounded in the implemented code " +
				"and the commit history. Each story must follow the form \"As a [role] I want [capability] so that " +
				"[benefit]\" and have an id, a title and a short description.",
			SelectionPrompt: "From these user stories, select the 3 most relevant and useful for the project. Weigh " +
				"feasibility, value to the user and dependencies on other features.",
			Options: defaultOptions(),
		},
		TestProposals: {
			SystemPrompt: "You are a Test-Driven Development expert. Your job is to propose 10 tests that drive the " +
				"implementation of a user story.",
			InstructionPrompt: "Propose 10 detailed tests for the selected user story. Each test must have an id, a " +
				"title, a description, the test code and the name of the test file it belongs in.",
			SelectionPrompt: "From these tests for the selected user story, select the 3 most relevant and useful. " +
				"Weigh code coverage, implementation complexity and edge cases.",
			Options: defaultOptions(),
		},
		RefactoringSuggestions: {
			SystemPrompt: "You are an expert in refactoring and code smells. Your job is to analyse the existing code " +
				"and produce 10 refactoring suggestions that improve maintainability and performance.",
			InstructionPrompt: "Analyse the code and suggest 10 improvements. Give each suggestion an id, a title and a " +
				"detailed description of the proposed refactoring. Consider reducing complexity, removing code smells, " +
				"improving readability and applying well-known patterns.",
			SelectionPrompt: "From these refactoring suggestions, select the 3 with the most impact. Weigh the effect " +
				"on existing code against the expected benefit.",
			Options: defaultOptions(),
		},
	}
}

// LoadProfiles overlays YAML overrides on the built-in profiles. Keys not
// present in data keep their defaults.
//
//	test_proposals:
//	  selection_prompt: "..."
//	  options:
//	    model: gpt-4o-mini
//	    temperature: 0.3
func LoadProfiles(data []byte) (Profiles, error) {
	return DefaultProfiles().Overlay(data)
}

// Overlay returns a copy of p with the YAML overrides in data applied.
func (p Profiles) Overlay(data []byte) (Profiles, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse prompt profiles: %w", err)
	}

	for _, key := range k.MapKeys("") {
		if !knownContentType(ContentType(key)) {
			return nil, fmt.Errorf("prompt profiles: unknown content type %q", key)
		}
	}

	profiles := maps.Clone(p)
	for _, ct := range ContentTypes {
		if !k.Exists(string(ct)) {
			continue
		}
		prof := profiles[ct]
		if err := k.Unmarshal(string(ct), &prof); err != nil {
			return nil, fmt.Errorf("decode %s profile: %w", ct, err)
		}
		profiles[ct] = prof
	}

	if err := profiles.Validate(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LoadProfilesFile reads overrides from path. An empty path yields the
// defaults.
func LoadProfilesFile(path string) (Profiles, error) {
	return DefaultProfiles().OverlayFile(path)
}

// OverlayFile applies the overrides in path to p. An empty path returns p.
func (p Profiles) OverlayFile(path string) (Profiles, error) {
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt profiles: %w", err)
	}
	return p.Overlay(data)
}

// WithOptions returns a copy of p using the model, token limit and
// temperature of o for every content type.
func (p Profiles) WithOptions(o oracle.Options) Profiles {
	out := maps.Clone(p)
	for ct, prof := range out {
		if o.Model != "" {
			prof.Options.Model = o.Model
		}
		if o.MaxTokens > 0 {
			prof.Options.MaxTokens = o.MaxTokens
		}
		prof.Options.Temperature = o.Temperature
		out[ct] = prof
	}
	return out
}

// Validate checks every content type has usable prompts and options.
func (p Profiles) Validate() error {
	for _, ct := range ContentTypes {
		prof, ok := p[ct]
		if !ok {
			return fmt.Errorf("prompt profiles: missing %s", ct)
		}
		if prof.InstructionPrompt == "" || prof.SelectionPrompt == "" {
			return fmt.Errorf("prompt profiles: %s needs instruction and selection prompts", ct)
		}
		if err := prof.Options.Validate(); err != nil {
			return fmt.Errorf("prompt profiles: %s: %w", ct, err)
		}
	}
	return nil
}

func knownContentType(ct ContentType) bool {
	for _, c := range ContentTypes {
		if c == ct {
			return true
		}
	}
	return false
}
