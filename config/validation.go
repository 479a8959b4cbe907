package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and the rules
// that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Branches) == 0 {
		return fmt.Errorf("branches: at least one branch must be configured")
	}

	roots := make(map[string]bool)
	writable := false
	for i, b := range cfg.Branches {
		root := filepath.Clean(b.Path)
		if roots[root] {
			return fmt.Errorf("branches[%d]: duplicate branch %q", i, b.Path)
		}
		roots[root] = true
		writable = writable || b.Writable
	}

	if cfg.COW && !writable {
		return fmt.Errorf("cow: copy-on-write needs at least one writable branch")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
