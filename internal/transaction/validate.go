package transaction

import "strings"

// FieldError describes a single invalid or missing field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface.
func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate checks the fields a transaction must carry before it may enter
// the scoring pipeline. Missing required fields are a client error, never a
// scoring concern.
func (t *Transaction) Validate() error {
	var errs FieldErrors

	if strings.TrimSpace(t.UserID) == "" {
		errs = append(errs, FieldError{Field: "user_id", Message: "is required"})
	}
	if t.Amount.IsZero() || t.Amount.IsNegative() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a positive amount"})
	}
	if strings.TrimSpace(t.SourceIP) == "" {
		errs = append(errs, FieldError{Field: "source_ip", Message: "is required"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
