package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError lists every invalid configuration field.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks field constraints on cfg and every enabled provider.
func Validate(cfg *Config) error {
	fields := map[string]string{}

	collect := func(prefix string, err error) error {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			key := prefix + fe.Namespace()
			fields[key] = describe(key, fe)
		}
		return nil
	}

	if err := validate.Struct(cfg); err != nil {
		if err := collect("", err); err != nil {
			return err
		}
	}
	for name, pc := range cfg.Providers {
		if err := validate.Struct(pc); err != nil {
			if err := collect("Providers["+name+"].", err); err != nil {
				return err
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func describe(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed on '%s'", field, fe.Tag())
	}
}
