// Package storage реализует хранилище пользователей, подписок и запусков воркфлоу на PostgreSQL.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound запись не найдена или не принадлежит указанному пользователю.
	ErrNotFound = errors.New("record not found")
	// ErrEmailTaken адрес почты уже занят другим пользователем.
	ErrEmailTaken = errors.New("email already taken")
)

// DB общий интерфейс пула соединений и его тестового двойника.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Storage инкапсулирует пул соединений с PostgreSQL.
type Storage struct {
	db DB
}

// New создает пул соединений и проверяет доступность базы.
func New(ctx context.Context, storageConnectionString string) (*Storage, *pgxpool.Pool, error) {
	const op = "storage.New"

	pool, err := pgxpool.New(ctx, storageConnectionString)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewWithDB(pool), pool, nil
}

// NewWithDB оборачивает готовое соединение.
func NewWithDB(db DB) *Storage {
	return &Storage{db: db}
}

// WithinTx выполняет fn в одной транзакции: commit при nil, rollback при ошибке.
// Вызовы хранилища с переданным в fn контекстом участвуют в транзакции.
// Вложенный вызов переиспользует уже открытую транзакцию.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	const op = "storage.WithinTx"
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%s: rollback: %w (cause: %w)", op, rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func (s *Storage) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.db
}

// mapError приводит ошибки драйвера к ошибкам хранилища.
// Некорректный uuid в условии означает, что такой записи нет.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.InvalidTextRepresentation:
			return ErrNotFound
		case pgerrcode.UniqueViolation:
			if pgErr.ConstraintName == "" || pgErr.ConstraintName == "idx_users_email" {
				return ErrEmailTaken
			}
		}
	}
	return err
}
