package model

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrItemAlreadyExists = errors.New("item already exists")
	ErrItemNotFound      = errors.New("item not found")
	ErrItemExpired       = errors.New("item expired")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrIncorrectPayment  = errors.New("incorrect payment")
	ErrOverflow          = errors.New("overflow")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrItemAlreadyExists, "item_already_exists"},
	{ErrItemNotFound, "item_not_found"},
	{ErrItemExpired, "item_expired"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrIncorrectPayment, "incorrect_payment"},
	{ErrOverflow, "overflow"},
}

// ErrorCode returns a stable code for err; "ok" for nil and "internal" for anything
// outside the ledger's error taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsRejection reports whether err is a business rejection rather than an infrastructure failure.
func IsRejection(err error) bool {
	c := ErrorCode(err)
	return c != "ok" && c != "internal"
}
