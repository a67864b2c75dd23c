package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"lottery_engine/internal/model"
)

const runColumns = `id, account_id, email, numbers_json, final_status, message, started_at, finished_at`

// SaveRun stores a finished batch with its item results. Saving the same id
// again replaces the previous results.
func (s *Store) SaveRun(ctx context.Context, run model.RunRecord) (model.RunRecord, error) {
	if run.Email == "" {
		return model.RunRecord{}, errors.New("email is required")
	}
	if run.FinalStatus == "" {
		return model.RunRecord{}, errors.New("finalStatus is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	if run.Numbers == nil {
		run.Numbers = []int{}
	}
	if run.Results == nil {
		run.Results = []model.LotteryResult{}
	}
	numbersJSON, err := json.Marshal(run.Numbers)
	if err != nil {
		return model.RunRecord{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				final_status = excluded.final_status,
				message = excluded.message,
				finished_at = excluded.finished_at
		`, run.ID, run.AccountID, run.Email, string(numbersJSON), string(run.FinalStatus), run.Message, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_results WHERE run_id = ?`, run.ID); err != nil {
			return err
		}
		for _, r := range run.Results {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO run_results (run_id, number, status, reason) VALUES (?, ?, ?, ?)
			`, run.ID, r.Number, string(r.Status), r.Reason)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return model.RunRecord{}, notFound(err, "run "+id)
	}
	results, err := s.runResults(ctx, id)
	if err != nil {
		return model.RunRecord{}, err
	}
	run.Results = results
	return run, nil
}

type RunFilter struct {
	AccountID string
	Email     string
	Limit     int
}

// ListRuns returns runs newest first, each with its results.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]model.RunRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE (? = '' OR account_id = ?) AND (? = '' OR email = ?)
		ORDER BY started_at DESC LIMIT ?
	`, f.AccountID, f.AccountID, f.Email, f.Email, limit)
	if err != nil {
		return nil, err
	}
	out := []model.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Results are read after the cursor is closed; the store holds one connection.
	for i := range out {
		results, err := s.runResults(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Results = results
	}
	return out, nil
}

func (s *Store) runResults(ctx context.Context, runID string) ([]model.LotteryResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, status, reason FROM run_results WHERE run_id = ? ORDER BY number ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LotteryResult{}
	for rows.Next() {
		var r model.LotteryResult
		var status string
		if err := rows.Scan(&r.Number, &status, &r.Reason); err != nil {
			return nil, err
		}
		r.Status = model.ResultStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(sc scanner) (model.RunRecord, error) {
	var row struct {
		id         string
		accountID  string
		email      string
		numbers    string
		status     string
		message    string
		startedAt  int64
		finishedAt int64
	}
	if err := sc.Scan(&row.id, &row.accountID, &row.email, &row.numbers, &row.status, &row.message, &row.startedAt, &row.finishedAt); err != nil {
		return model.RunRecord{}, err
	}
	var numbers []int
	_ = json.Unmarshal([]byte(row.numbers), &numbers)
	if numbers == nil {
		numbers = []int{}
	}
	return model.RunRecord{
		ID:          row.id,
		AccountID:   row.accountID,
		Email:       row.email,
		Numbers:     numbers,
		FinalStatus: model.FinalStatus(row.status),
		Message:     row.message,
		StartedAt:   time.UnixMilli(row.startedAt),
		FinishedAt:  time.UnixMilli(row.finishedAt),
	}, nil
}
