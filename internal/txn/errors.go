package txn

import "errors"

// Ошибки runner'а.
var (
	// ErrNoTransaction - операция требует открытой транзакции.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrNestedTransaction - Begin внутри уже открытой транзакции.
	ErrNestedTransaction = errors.New("transaction already active")
)
