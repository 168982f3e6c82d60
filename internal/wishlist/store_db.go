package wishlist

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"Storefront/internal/catalog"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(owner string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product, added_at
		FROM wishlist_items
		WHERE owner = $1
		ORDER BY added_at ASC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var raw []byte
		if err := rows.Scan(&it.ID, &raw, &it.AddedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &it.Product); err != nil {
			it.Product = catalog.Product{ID: it.ID}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Save(owner string, items []Item) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM wishlist_items WHERE owner = $1`, owner); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wishlist_items (owner, product_id, product, added_at)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		raw, err := json.Marshal(it.Product)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, owner, it.ID, raw, it.AddedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Clear(owner string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM wishlist_items WHERE owner = $1`, owner)
	return err
}

func (s *PostgresStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
