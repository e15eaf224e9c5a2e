package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserExists   = errors.New("username already taken")
	ErrUserNotFound = errors.New("user not found")
)

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) error
	PasswordHash(ctx context.Context, username string) (string, error)
}

type UserRepo struct{ DB *pgxpool.Pool }

func (r *UserRepo) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := r.DB.Exec(ctx, `INSERT INTO users(username, password_hash) VALUES ($1, $2)`, username, passwordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

func (r *UserRepo) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := r.DB.QueryRow(ctx, `SELECT password_hash FROM users WHERE username=$1`, username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return hash, err
}
