// Package validator checks decoded request structs with go-playground/validator.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// Password length bounds for newly chosen passwords. Existing credentials
// are never checked against them.
const (
	MinPasswordLen = 6
	MaxPasswordLen = 72
)

var ErrTranslatorNotFound = errors.New("translator not found")

// ValidationError maps a JSON field name to a readable message.
type ValidationError map[string]string

func (ve ValidationError) Error() string {
	if len(ve) == 0 {
		return "validation error"
	}

	b, err := json.Marshal(map[string]string(ve))
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New builds a Validator with English messages and the "password" rule.
func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// report fields under their JSON names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}

	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, err
	}

	if err := registerPassword(validate, enTrans); err != nil {
		return nil, err
	}

	return &Validator{validate: validate, translator: enTrans}, nil
}

// Validate returns a ValidationError when data breaks its struct tags.
func (v *Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	ve := make(ValidationError, len(fieldErrs))
	for _, fe := range fieldErrs {
		ve[fe.Field()] = fe.Translate(v.translator)
	}
	return ve
}

func registerPassword(validate *validator.Validate, enTrans ut.Translator) error {
	err := validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		p, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		n := utf8.RuneCountInString(p)
		return n >= MinPasswordLen && n <= MaxPasswordLen
	})
	if err != nil {
		return err
	}

	return validate.RegisterTranslation("password", enTrans,
		func(ut ut.Translator) error {
			return ut.Add("password", fmt.Sprintf("{0} must be %d-%d characters", MinPasswordLen, MaxPasswordLen), false)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, err := ut.T(fe.Tag(), fe.Field())
			if err != nil {
				return fe.Error()
			}
			return t
		},
	)
}
