package project

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mu-project/mu-cli/pkg/engine"
	"golang.org/x/mod/semver"
)

// unitNamePattern keeps unit names usable as a single path component and as a cargo/npm package name.
var unitNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("unitname", func(fl validator.FieldLevel) bool {
			return unitNamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidUnitName reports whether name can be used for a function or frontend.
func ValidUnitName(name string) bool {
	return unitNamePattern.MatchString(name)
}

func validateStruct(v interface{}) error {
	if err := structValidator().Struct(v); err != nil {
		return engine.NewInvalidError(formatValidationErrors(err), err).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "unitname":
			msgs = append(msgs, fmt.Sprintf("%s %q must start with a letter or digit and contain only letters, digits, '-' or '_'", fe.Namespace(), fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s %q must be one of [%s]", fe.Namespace(), fe.Value(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// Validate checks field constraints, the metadata version and name uniqueness.
func (p *Project) Validate() error {
	if err := validateStruct(p.Config()); err != nil {
		return err
	}

	if !semver.IsValid("v" + p.Metadata.Version) {
		return engine.NewInvalidError(fmt.Sprintf("metadata version %q is not a semantic version", p.Metadata.Version), nil).
			WithCode(engine.ErrCodeValidation)
	}

	seen := make(map[string]struct{}, len(p.Functions))
	for _, f := range p.Functions {
		if _, dup := seen[f.Name()]; dup {
			return engine.NewInvalidError(fmt.Sprintf("function %q is declared more than once", f.Name()), nil).
				WithCode(engine.ErrCodeAlreadyExists).
				WithUnit(f.Name())
		}
		seen[f.Name()] = struct{}{}
	}

	seen = make(map[string]struct{}, len(p.Frontends))
	for _, f := range p.Frontends {
		if _, dup := seen[f.Name()]; dup {
			return engine.NewInvalidError(fmt.Sprintf("frontend %q is declared more than once", f.Name()), nil).
				WithCode(engine.ErrCodeAlreadyExists).
				WithUnit(f.Name())
		}
		seen[f.Name()] = struct{}{}
	}

	return nil
}
