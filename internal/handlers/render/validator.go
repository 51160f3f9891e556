package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/hhledger/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("txkind", validateTransactionKind)
	v.RegisterTagNameFunc(useJSONTagNames)
	return v
}

// Report fields by their 'json' tag name
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateTransactionKind(fl validator.FieldLevel) bool {
	switch models.TransactionKind(strings.ToUpper(fl.Field().String())) {
	case models.TransactionCharge, models.TransactionUse, models.TransactionRefund:
		return true
	default:
		return false
	}
}
