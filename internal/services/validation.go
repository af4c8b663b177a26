package services

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
)

const requiredText = "this field is required"

var (
	validatorOnce sync.Once
	validate      *validator.Validate
	translator    ut.Translator
)

func initValidator() {
	locale := en.New()
	uni := ut.New(locale, locale)
	translator, _ = uni.GetTranslator("en")
	validate = validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	for _, tag := range []string{"required", "required_without"} {
		tag := tag
		_ = validate.RegisterTranslation(tag, translator,
			func(t ut.Translator) error { return t.Add(tag, requiredText, true) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T(tag, fe.Field())
				return s
			},
		)
	}
}

// ValidateStruct checks validate tags and reports failures as an invalid
// ServiceError with one translated message per JSON field.
func ValidateStruct(v any) error {
	validatorOnce.Do(initValidator)
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(translator)
	}
	return &ServiceError{Code: ErrorInvalid, Message: "invalid input", Fields: fields}
}
