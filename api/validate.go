package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/ledger"
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
	// Day amounts are compared numerically by gt/lte tags.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// decodeJSONBody decodes a strict JSON body into dest and validates it.
// Every failure is an invalid-argument ledger error.
func decodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return ledger.Errorf(ledger.KindInvalidArgument, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]any{}
		for _, fieldErr := range errs {
			details[fieldPath(fieldErr)] = validationMessage(fieldErr)
		}
		return ledger.Errorf(ledger.KindInvalidArgument, "validation failed").WithDetails(details)
	}
	return ledger.Errorf(ledger.KindInvalidArgument, "validation failed: %v", err)
}

// fieldPath drops the struct name: "allocations[0].daysUsed".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	}
	return "is invalid"
}

// wholeDays converts a JSON day amount into whole days. Fractional days are
// rejected.
func wholeDays(field string, d decimal.Decimal) (int, error) {
	if !d.IsInteger() {
		return 0, ledger.Errorf(ledger.KindInvalidArgument, "%s must be a whole number of days, got %s", field, d.String()).
			WithDetails(map[string]any{"field": field})
	}
	if !d.IsPositive() {
		return 0, ledger.Errorf(ledger.KindInvalidArgument, "%s must be positive, got %s", field, d.String()).
			WithDetails(map[string]any{"field": field})
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, ledger.Errorf(ledger.KindInvalidArgument, "%s is too large", field).
			WithDetails(map[string]any{"field": field})
	}
	return int(d.IntPart()), nil
}
