package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"stepschool_go/services/ledger"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"
)

var (
	validate   *validator.Validate
	translator ut.Translator
	initOnce   sync.Once
)

// Validator returns the shared validator. Field names in errors follow the json tags.
func Validator() *validator.Validate {
	initOnce.Do(initValidator)
	return validate
}

func initValidator() {
	enLocale := en.New()
	translator, _ = ut.New(enLocale, enLocale).GetTranslator("en")

	validate = validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimals validate as numbers so gt=0 / gte=0 work on money fields
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
}

// ValidateStruct runs the struct tags and folds failures into a ledger.ValidationError.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]ledger.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, ledger.FieldError{Field: fieldPath(fe), Error: fe.Translate(translator)})
	}
	return ledger.NewValidationError(ledger.ErrInvalidInput, fields...)
}

// fieldPath drops the root struct name: "createClientRequest.programs[0].seat_count" -> "programs[0].seat_count".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
