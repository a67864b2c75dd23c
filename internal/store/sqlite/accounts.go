package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"lottery_engine/internal/model"
)

const accountColumns = `id, email, password, numbers_json, enabled, note, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// UpsertAccount inserts acc or updates the account with the same email. An
// empty password keeps the stored one.
func (s *Store) UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	acc.Email = strings.TrimSpace(acc.Email)
	if acc.Email == "" {
		return model.Account{}, errors.New("email is required")
	}
	acc.Numbers = model.NormalizeNumbers(acc.Numbers)
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	numbersJSON, err := json.Marshal(acc.Numbers)
	if err != nil {
		return model.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			password = CASE WHEN excluded.password = '' THEN accounts.password ELSE excluded.password END,
			numbers_json = excluded.numbers_json,
			enabled = excluded.enabled,
			note = excluded.note,
			updated_at = excluded.updated_at
	`, acc.ID, acc.Email, acc.Password, string(numbersJSON), boolInt(acc.Enabled), acc.Note, acc.CreatedAt.UnixMilli(), acc.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Account{}, err
	}

	return s.GetAccountByEmail(ctx, acc.Email)
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, "account "+id)
	}
	return acc, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, strings.TrimSpace(email))
	acc, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, "account "+email)
	}
	return acc, nil
}

// ListAccounts returns accounts oldest first, the order the engine works them.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC, email ASC`)
}

func (s *Store) ListEnabledAccounts(ctx context.Context) ([]model.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE enabled = 1 ORDER BY created_at ASC, email ASC`)
}

func (s *Store) queryAccounts(ctx context.Context, query string) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetAccountEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET enabled = ?, updated_at = ? WHERE id = ?`, boolInt(enabled), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func scanAccount(sc scanner) (model.Account, error) {
	var row struct {
		id        string
		email     string
		password  string
		numbers   string
		enabled   int
		note      string
		createdAt int64
		updatedAt int64
	}
	if err := sc.Scan(&row.id, &row.email, &row.password, &row.numbers, &row.enabled, &row.note, &row.createdAt, &row.updatedAt); err != nil {
		return model.Account{}, err
	}
	var numbers []int
	_ = json.Unmarshal([]byte(row.numbers), &numbers)
	if numbers == nil {
		numbers = []int{}
	}
	return model.Account{
		ID:        row.id,
		Email:     row.email,
		Password:  row.password,
		Numbers:   numbers,
		Enabled:   row.enabled != 0,
		Note:      row.note,
		CreatedAt: time.UnixMilli(row.createdAt),
		UpdatedAt: time.UnixMilli(row.updatedAt),
	}, nil
}
