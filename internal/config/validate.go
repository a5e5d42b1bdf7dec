package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	assetqerrors "github.com/alexisbeaulieu97/assetq/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	platformPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
	yamlLineRegex   = regexp.MustCompile(`line (\d+)`)
)

// validatorInstance configures and returns the shared validator instance.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("platform_id", func(fl validator.FieldLevel) bool {
			return platformPattern.MatchString(strings.ToLower(fl.Field().String()))
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator for use outside the config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// Validate checks cfg against its struct rules and cross-field constraints.
func Validate(cfg *Config) error {
	if err := validatorInstance().Struct(cfg); err != nil {
		return ConvertValidationError(err)
	}

	hosts := 0
	for i, p := range cfg.Platforms {
		if p.Host {
			hosts++
		}
		if p.Host && p.Intermediate {
			return assetqerrors.NewValidationError(fmt.Sprintf("platforms[%d]", i), "a platform cannot be both host and intermediate", nil)
		}
	}
	if hosts > 1 {
		return assetqerrors.NewValidationError("platforms", "at most one platform may be the host", nil)
	}
	return nil
}

// ConvertValidationError normalizes validator errors into assetq validation errors.
func ConvertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return assetqerrors.NewValidationError(field, msg, err)
	}

	return assetqerrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	lowered := make([]string, 0, len(parts))
	for _, part := range parts[1:] {
		lowered = append(lowered, toSnake(part))
	}
	if len(lowered) == 0 {
		return strings.ToLower(fe.Field())
	}
	return strings.Join(lowered, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && isLowerOrDigit(s[i-1]) {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}

func isLowerOrDigit(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
