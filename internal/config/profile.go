package config

import (
	"fmt"
	"regexp"
)

// DefaultProfile is the profile used when nothing else is configured.
const DefaultProfile = "default"

var profileNameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ResolveProfile determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "default"
func ResolveProfile(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := Load(Path())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfile
}

// ValidateProfileName checks that name conforms to profile naming rules.
func ValidateProfileName(name string) error {
	if !profileNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
