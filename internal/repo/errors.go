package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shaiso/automata-engine/internal/domain"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound - запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists - запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")
)

// SQLSTATE коды, означающие повторяемый конфликт.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// translate приводит ошибку PostgreSQL к ошибкам ядра.
//
// Ошибки сериализации и deadlock - domain.Conflict (runner повторит
// транзакцию), нарушение уникальности - ErrAlreadyExists.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%s: %w", op, domain.Conflict(err))
		case sqlStateUniqueViolation:
			return fmt.Errorf("%s: %w: %v", op, ErrAlreadyExists, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
