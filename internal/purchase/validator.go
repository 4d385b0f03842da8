package purchase

import (
	"regexp"
	"strings"
)

// Payment methods accepted for a unit purchase.
const (
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodMobileMoney  = "mobile_money"
)

// Request is a user-submitted purchase of electricity units. Email and
// phone are optional; empty means not provided.
type Request struct {
	CustomerName  string  `json:"customer_name"`
	CustomerEmail string  `json:"customer_email"`
	CustomerPhone string  `json:"customer_phone"`
	Units         float64 `json:"units"`
	PaymentMethod string  `json:"payment_method"`
}

// ValidationError carries the user-facing message for a rejected request
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Nigerian mobile: +234/234/0 prefix, then a 7/8/9 carrier digit and
	// nine more digits.
	phonePattern    = regexp.MustCompile(`^(\+234|234|0)[789]\d{9}$`)
	phoneStripChars = regexp.MustCompile(`[\s\-()]`)
)

// Validator checks purchase requests before any remote call is attempted
type Validator struct {
	maxUnits float64
}

// NewValidator creates a validator with the given unit-count ceiling
func NewValidator(maxUnits float64) *Validator {
	return &Validator{maxUnits: maxUnits}
}

// Validate checks a request and returns a *ValidationError describing the
// first failed constraint, in the order name, units, email, phone, method.
func (v *Validator) Validate(req Request) error {
	if len(strings.TrimSpace(req.CustomerName)) < 2 {
		return &ValidationError{Message: "Customer name is required"}
	}

	if req.Units <= 0 || req.Units > v.maxUnits {
		return &ValidationError{Message: "Units must be between 1 and 1000"}
	}

	if req.CustomerEmail != "" && !emailPattern.MatchString(req.CustomerEmail) {
		return &ValidationError{Message: "Invalid email address"}
	}

	if req.CustomerPhone != "" && !validPhone(req.CustomerPhone) {
		return &ValidationError{Message: "Invalid phone number"}
	}

	switch req.PaymentMethod {
	case MethodCard, MethodBankTransfer, MethodMobileMoney:
	default:
		return &ValidationError{Message: "Invalid payment method"}
	}

	return nil
}

func validPhone(phone string) bool {
	return phonePattern.MatchString(phoneStripChars.ReplaceAllString(phone, ""))
}
