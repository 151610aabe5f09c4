// Package prompts holds the per-role base prompts. A yaml file on disk can
// override the embedded defaults so prompt tuning does not need a rebuild.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
)

//go:embed prompts.yaml
var defaultPrompts []byte

const (
	RoleStudent       = "student"
	RoleParent        = "parent"
	RoleGraduate      = "graduate"
	RoleInternational = "international"
)

type promptsFile struct {
	Roles map[string]string `yaml:"roles"`
}

type Library struct {
	roles map[string]string
}

// Load reads PROMPTS_FILE when set, otherwise the embedded defaults.
func Load(log *logger.Logger) (*Library, error) {
	raw := defaultPrompts
	if path := envutil.Str("PROMPTS_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts file %q: %w", path, err)
		}
		raw = b
		log.Info("role prompts loaded from file", "path", path)
	}

	var f promptsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse prompts yaml: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("prompts yaml has no roles")
	}
	if _, ok := f.Roles[RoleStudent]; !ok {
		return nil, fmt.Errorf("prompts yaml missing %q role", RoleStudent)
	}
	return &Library{roles: f.Roles}, nil
}

// Role returns the base prompt for the given user role, falling back to the
// student prompt for unknown roles.
func (l *Library) Role(role string) string {
	if p, ok := l.roles[strings.ToLower(strings.TrimSpace(role))]; ok {
		return strings.TrimSpace(p)
	}
	return strings.TrimSpace(l.roles[RoleStudent])
}
