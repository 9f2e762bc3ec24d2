package access

import (
	validation "github.com/go-ozzo/ozzo-validation"
)

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field-to-message map for JSON error responses.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	errs, ok := err.(validation.Errors)
	if !ok {
		out["error"] = err.Error()
		return out
	}

	for field, fieldErr := range errs {
		if fieldErr != nil {
			out[field] = fieldErr.Error()
		}
	}

	return out
}
