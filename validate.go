package tally

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/tally/types"
)

// fieldKinds maps a request field (by json name) to the error kind its
// violation reports. Everything else is an invalid request.
var fieldKinds = map[string]types.Kind{
	"quantity": types.KindInvalidQuantity,
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates a request struct once at the engine boundary.
func (e *Engine) check(req any) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.E(types.KindInvalidRequest, "%v", err)
	}
	fe := verrs[0]
	kind, ok := fieldKinds[fe.Field()]
	if !ok {
		kind = types.KindInvalidRequest
	}
	return types.E(kind, "%s: %s", fe.Namespace(), validationMessage(fe))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "dive":
		return "has an invalid element"
	default:
		return "is invalid"
	}
}
