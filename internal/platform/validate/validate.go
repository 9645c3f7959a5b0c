// Package validate wires go-playground/validator into echo and renders its
// failures as domain validation errors.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/platform/apperr"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9._-]{3,32}$`)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// Decimals validate as numbers so gte/lte/gt work on money and quantities.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		switch d := field.Interface().(type) {
		case decimal.Decimal:
			f, _ := d.Float64()
			return f
		case decimal.NullDecimal:
			if !d.Valid {
				return nil
			}
			f, _ := d.Decimal.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{}, decimal.NullDecimal{})

	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return Username(fl.Field().String())
	})

	return &Validator{v: v}
}

// Username reports whether s is 3 to 32 characters of [a-z0-9._-] once
// lower-cased.
func Username(s string) bool {
	return usernameRe.MatchString(strings.ToLower(s))
}

// Validate returns nil or an *apperr.Error listing every failed field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	case "username":
		return field + " must be 3-32 characters of a-z, 0-9, '.', '_' or '-'"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Bind decodes the request into i and validates it. Decode failures become
// 400 validation errors.
func Bind(c echo.Context, i interface{}) error {
	if err := c.Bind(i); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(i); err != nil {
		return err
	}
	return nil
}
