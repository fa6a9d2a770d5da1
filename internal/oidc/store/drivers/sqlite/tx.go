package sqlite

import (
	"context"
	"database/sql"

	"github.com/wintermoot/forumoidc/internal/oidc/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // nothing to close; outer DB stays open

// Ping is a no-op for transactions.
func (t *txStore) Ping(_ context.Context) error { return nil }

func (t *txStore) Tx(_ context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(_ context.Context, _ func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) AccessTokens() store.AccessTokens   { return &accessTokensRepo{q: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{q: t.tx} }
func (t *txStore) AuthorizationCodes() store.AuthorizationCodes {
	return &authorizationCodesRepo{q: t.tx}
}

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx starts
