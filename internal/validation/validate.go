// Package validation runs the structural checks on inbound request bodies
// and reports every failing field at once.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/Skotchmaster/auth_service/internal/apperr"
	"github.com/Skotchmaster/auth_service/internal/hash"
)

const DefaultMinPasswordLength = 6

type Validator struct {
	v           *validator.Validate
	minPassword int
}

func New(minPassword int) *Validator {
	if minPassword < 1 {
		minPassword = DefaultMinPasswordLength
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)

	out := &Validator{v: v, minPassword: minPassword}
	// Registration only fails on an empty tag name.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return utf8.RuneCountInString(s) >= out.minPassword && len(s) <= hash.MaxPasswordBytes
	})
	return out
}

func (v *Validator) MinPasswordLength() int { return v.minPassword }

// Validate satisfies echo.Validator. It returns nil or an apperr validation
// error listing each failing field.
func (v *Validator) Validate(i interface{}) error {
	err := v.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInternal, "validation setup", err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: v.message(fe)})
	}
	return apperr.Validation(fields...)
}

func (v *Validator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "password":
		if s, _ := fe.Value().(string); len(s) > hash.MaxPasswordBytes {
			return fmt.Sprintf("must be at most %d bytes", hash.MaxPasswordBytes)
		}
		return fmt.Sprintf("must be at least %d characters", v.minPassword)
	case "eqfield":
		return "must match " + lowerFirst(fe.Param())
	case "nefield":
		return "must differ from " + lowerFirst(fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

// fieldName reports fields by their wire name.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "query"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
