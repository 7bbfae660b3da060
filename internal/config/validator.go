package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Supergateway-specific validation rules.
// Must be called before validating a Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("cors_pattern", validateCORSPattern); err != nil {
		return fmt.Errorf("register cors_pattern validator: %w", err)
	}
	return nil
}

// validateCORSPattern accepts a literal origin, "*", or a /regex/-delimited
// pattern that compiles.
func validateCORSPattern(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" || value == "*" {
		return true
	}
	if strings.HasPrefix(value, "/") && strings.HasSuffix(value, "/") && len(value) > 1 {
		_, err := regexp.Compile(value[1 : len(value)-1])
		return err == nil
	}
	return true
}

// Validate runs struct-tag validation plus Supergateway's cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateInputModeMutualExclusion(); err != nil {
		return err
	}
	if err := c.validateCORSEntries(); err != nil {
		return err
	}
	if err := c.validateStatefulRequiresStreamableHTTP(); err != nil {
		return err
	}
	return nil
}

// validateInputModeMutualExclusion ensures at most one of --stdio, --sse,
// --streamableHttp is set (the required_without_all tag on Stdio already
// ensures at least one is).
func (c *Config) validateInputModeMutualExclusion() error {
	set := 0
	if c.Stdio != "" {
		set++
	}
	if c.SSE != "" {
		set++
	}
	if c.StreamableHTTPURL != "" {
		set++
	}
	if set > 1 {
		return errors.New("input mode: specify exactly one of --stdio, --sse, --streamableHttp")
	}
	return nil
}

// validateCORSEntries runs the cors_pattern rule over every --cors value;
// validator's dive on a plain []string needs an explicit loop since entries
// may legitimately be the empty string (allow-all sentinel).
func (c *Config) validateCORSEntries() error {
	for _, entry := range c.CORS {
		if entry == "" || entry == "*" {
			continue
		}
		if strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") && len(entry) > 1 {
			if _, err := regexp.Compile(entry[1 : len(entry)-1]); err != nil {
				return fmt.Errorf("cors: invalid regex pattern %q: %w", entry, err)
			}
		}
	}
	return nil
}

// validateStatefulRequiresStreamableHTTP: --stateful only makes sense when
// the exposed transport is Streamable HTTP.
func (c *Config) validateStatefulRequiresStreamableHTTP() error {
	if c.Stateful && c.OutputTransport != OutputStreamableHTTP && c.InputMode() != InputStreamableHTTP {
		return errors.New("--stateful requires --outputTransport=streamableHttp or --streamableHttp input mode")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors into a single
// human-readable error joining every failed field.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		messages := make([]string, 0, len(verrs))
		for _, e := range verrs {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "required_without_all":
		return fmt.Sprintf("%s is required unless SSE or StreamableHTTPURL is set", e.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s failed validation %q", e.Field(), e.Tag())
	}
}
