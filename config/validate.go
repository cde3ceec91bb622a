package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report fields by their file key, e.g. "apiHash".
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// FieldError describes one invalid field.
type FieldError struct {
	Field string
	Rule  string
	Param string
	Value interface{}
}

func (fe FieldError) String() string {
	if fe.Param != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Field, fe.Rule, fe.Param, fe.Value)
	}
	return fmt.Sprintf("%s: failed %s (got %v)", fe.Field, fe.Rule, fe.Value)
}

// ValidationError reports a semantically invalid configuration.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate checks c field by field. It returns a *ValidationError listing every
// invalid field, or nil.
func (c Config) Validate() error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		value := fe.Value()
		// Never echo credentials back into logs.
		if fe.Field() == "apiHash" || fe.Field() == "databaseEncryptionKey" {
			value = "<redacted>"
		}
		out.Fields = append(out.Fields, FieldError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
			Value: value,
		})
	}
	return out
}
