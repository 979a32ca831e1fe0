package auth

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed legacy_roles.yaml
var defaultLegacyRoles []byte

// LegacyRoles maps role names of the flat role model to the permission
// bundles that stand in for them.
type LegacyRoles struct {
	Version int                 `yaml:"version"`
	Roles   map[string][]string `yaml:"roles"`
}

// DefaultLegacyRoles returns the mapping compiled into the binary.
func DefaultLegacyRoles() (LegacyRoles, error) {
	return ParseLegacyRoles(defaultLegacyRoles)
}

// LoadLegacyRoles reads the mapping from path, falling back to the compiled
// default when path is empty.
func LoadLegacyRoles(path string) (LegacyRoles, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultLegacyRoles()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return LegacyRoles{}, fmt.Errorf("read legacy roles: %w", err)
	}
	return ParseLegacyRoles(data)
}

// ParseLegacyRoles decodes and validates a YAML mapping document.
func ParseLegacyRoles(data []byte) (LegacyRoles, error) {
	var lr LegacyRoles
	if err := yaml.Unmarshal(data, &lr); err != nil {
		return LegacyRoles{}, fmt.Errorf("decode legacy roles: %w", err)
	}
	if lr.Version <= 0 {
		return LegacyRoles{}, errors.New("legacy roles: version must be positive")
	}
	normalized := make(map[string][]string, len(lr.Roles))
	for name, perms := range lr.Roles {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return LegacyRoles{}, errors.New("legacy roles: empty role name")
		}
		if len(perms) == 0 {
			return LegacyRoles{}, fmt.Errorf("legacy roles: role %q has no permissions", name)
		}
		list := NewPermissionSet(perms...).Names()
		normalized[name] = list
	}
	lr.Roles = normalized
	return lr, nil
}

// Permissions returns the bundle for a legacy role name.
func (lr LegacyRoles) Permissions(role string) ([]string, bool) {
	perms, ok := lr.Roles[strings.ToLower(strings.TrimSpace(role))]
	return perms, ok
}

// Names returns the known legacy role names.
func (lr LegacyRoles) Names() []string {
	out := make([]string, 0, len(lr.Roles))
	for k := range lr.Roles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
