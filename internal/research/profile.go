package research

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

const profileEnv = "RESEARCH_PROFILE_YAML"

//go:embed profile.yaml
var profileFS embed.FS

// Profile is the model-facing configuration of a research run.
type Profile struct {
	Name            string       `yaml:"profile"`
	Version         int          `yaml:"version"`
	Model           string       `yaml:"model"`
	MaxOutputTokens int          `yaml:"max_output_tokens"`
	MaxToolRounds   int          `yaml:"max_tool_rounds"`
	Instructions    Instructions `yaml:"instructions"`
	Tools           []ToolSpec   `yaml:"tools"`
}

type Instructions struct {
	Preamble string `yaml:"preamble"`
	Closing  string `yaml:"closing"`
}

type ToolSpec struct {
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description"`
	LatencyMS   int                      `yaml:"latency_ms"`
	Parameters  map[string]ToolParamSpec `yaml:"parameters"`
}

type ToolParamSpec struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

func (t ToolSpec) Latency() time.Duration {
	if t.LatencyMS <= 0 {
		return 0
	}
	return time.Duration(t.LatencyMS) * time.Millisecond
}

// JSONSchema renders the parameters as a JSON schema object for function tools.
func (t ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	required := make([]string, 0, len(t.Parameters))
	names := make([]string, 0, len(t.Parameters))
	for name := range t.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := t.Parameters[name]
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[name] = map[string]any{"type": typ, "description": p.Description}
		if p.Required {
			required = append(required, name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (p *Profile) Tool(kind ToolKind) (ToolSpec, bool) {
	for _, t := range p.Tools {
		if ToolKind(t.Name) == kind {
			return t, true
		}
	}
	return ToolSpec{}, false
}

var (
	profileOnce  sync.Once
	profileCache *Profile
	profileErr   error

	defaultOnce    sync.Once
	defaultProfile *Profile
)

// DefaultProfile is the embedded profile. It panics only if the embedded
// file is broken, which the package tests guard against.
func DefaultProfile() *Profile {
	defaultOnce.Do(func() {
		data, err := profileFS.ReadFile("profile.yaml")
		if err == nil {
			defaultProfile, err = parseProfile(data)
		}
		if err != nil {
			panic(fmt.Sprintf("research: embedded profile: %v", err))
		}
	})
	return defaultProfile
}

// CurrentProfile returns the profile named by RESEARCH_PROFILE_YAML, falling
// back to the embedded one when the override is unreadable or invalid.
func CurrentProfile(log *logger.Logger) *Profile {
	profileOnce.Do(func() {
		path := strings.TrimSpace(os.Getenv(profileEnv))
		if path == "" {
			profileCache = DefaultProfile()
			return
		}
		profileCache, profileErr = LoadProfile(path)
	})
	if profileErr != nil {
		if log != nil {
			log.Warn("research: profile override load failed; using embedded profile", "error", profileErr)
		}
		return DefaultProfile()
	}
	return profileCache
}

func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseProfile(data)
}

func parseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := validateProfile(&p); err != nil {
		return nil, err
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = 4000
	}
	if p.MaxToolRounds <= 0 {
		p.MaxToolRounds = 4
	}
	return &p, nil
}

func validateProfile(p *Profile) error {
	if strings.TrimSpace(p.Name) != "research" {
		return fmt.Errorf("unexpected profile: %q", p.Name)
	}
	if strings.TrimSpace(p.Instructions.Preamble) == "" {
		return errors.New("instructions.preamble is required")
	}
	seen := map[string]bool{}
	for _, t := range p.Tools {
		if !ToolKind(t.Name).Valid() {
			return fmt.Errorf("unknown tool: %q", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool: %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
