package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

func (s *Store) RecordUsage(ctx context.Context, r UsageRecord) (UsageRecord, error) {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	q := s.sql.Insert("usage_records").
		Columns("id", "created_unix", "prompt_name", "api", "model", "prompt_tokens", "completion_tokens", "total_tokens").
		Values(r.ID, r.CreatedAt.Unix(), r.PromptName, r.API, r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UsageRecord{}, fmt.Errorf("build usage insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return UsageRecord{}, fmt.Errorf("record usage: %w", err)
	}
	return r, nil
}

// Summarize aggregates usage per api and model for records created at or
// after since. A zero since covers everything.
func (s *Store) Summarize(ctx context.Context, since time.Time) ([]UsageSummary, error) {
	q := s.sql.Select(
		"api",
		"model",
		"COUNT(*)",
		"COALESCE(SUM(prompt_tokens), 0)",
		"COALESCE(SUM(completion_tokens), 0)",
		"COALESCE(SUM(total_tokens), 0)",
	).
		From("usage_records").
		GroupBy("api", "model").
		OrderBy("api", "model")
	if !since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_unix": since.Unix()})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build usage summary query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.API, &u.Model, &u.Requests, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage summary: %w", err)
	}
	return out, nil
}
