// Package validate decodes request data into structs and checks them
// against their `validate` tags.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator can be implemented by destination types for checks that
// tags cannot express. It runs after tag validation passes.
type Validator interface{ Validate() error }

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (fe FieldError) String() string {
	if fe.Param != "" {
		return fe.Field + " failed " + fe.Rule + "=" + fe.Param
	}
	return fe.Field + " failed " + fe.Rule
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func (e *ValidationError) Error() string { return "validation error: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// DecodeError reports input that could not be decoded into the
// destination at all, as opposed to decoded input that failed checks.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string { return "error decoding " + e.Source + ": " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

type Validate struct {
	Instance *validator.Validate
}

// New returns a Validate whose field errors are reported under the
// same names the decoders read them from.
func New() *Validate {
	instance := validator.New(validator.WithRequiredStructEnabled())
	instance.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, skip := fieldKey(field)
		if skip {
			return ""
		}
		return name
	})
	return &Validate{Instance: instance}
}

// Struct runs tag validation and then the Validator hook, if any.
func (v *Validate) Struct(destStructPtr any) error {
	if err := v.Instance.Struct(destStructPtr); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		root := reflect.Indirect(reflect.ValueOf(destStructPtr)).Type().Name()
		out := &ValidationError{Err: err, Fields: make([]FieldError, 0, len(fieldErrs))}
		for _, fe := range fieldErrs {
			out.Fields = append(out.Fields, FieldError{
				Field: trimRoot(fe.Namespace(), root),
				Rule:  fe.Tag(),
				Param: fe.Param(),
			})
		}
		return out
	}
	if hook, ok := destStructPtr.(Validator); ok {
		if err := hook.Validate(); err != nil {
			return &ValidationError{Err: err}
		}
	}
	return nil
}

// JSONBytesInto decodes data into destStructPtr and validates it.
// Unknown fields are ignored.
func (v *Validate) JSONBytesInto(data []byte, destStructPtr any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(destStructPtr); err != nil {
		return &DecodeError{Source: "JSON", Err: err}
	}
	if dec.More() {
		return &DecodeError{Source: "JSON", Err: fmt.Errorf("unexpected data after top-level value")}
	}
	return v.Struct(destStructPtr)
}

// URLValuesInto decodes query or form values into destStructPtr and
// validates it.
func (v *Validate) URLValuesInto(values url.Values, destStructPtr any) error {
	if err := decodeURLValues(values, destStructPtr); err != nil {
		return &DecodeError{Source: "URL values", Err: err}
	}
	return v.Struct(destStructPtr)
}

// trimRoot drops the root struct name: "Signup.address.city" becomes
// "address.city".
func trimRoot(ns, root string) string {
	if root == "" {
		return ns
	}
	return strings.TrimPrefix(ns, root+".")
}
