package billing

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// validateChange rejects a planned change whose required fields are missing.
func validateChange(change Change) error {
	if err := validate.Struct(change); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			details := map[string]string{}
			fields := make([]string, 0, len(errs))
			for _, fieldErr := range errs {
				details[fieldErr.Namespace()] = validationMessage(fieldErr)
				fields = append(fields, fieldErr.Field())
			}
			msg := fmt.Sprintf("event is missing or has invalid %s", strings.Join(fields, ", "))
			return pkgerrors.New(pkgerrors.CodeMalformed, msg).WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeMalformed, err, "event failed validation")
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	}
	return "is invalid"
}
