package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"briefing_scheduler/internal/domain"
)

type ContentCacheStore struct {
	db *sqlx.DB
}

func NewContentCacheStore(db *sqlx.DB) *ContentCacheStore {
	return &ContentCacheStore{db: db}
}

// Append stores a new snapshot. Entries are never updated in place.
func (s *ContentCacheStore) Append(ctx context.Context, entry *domain.ContentEntry) error {
	query := `
		INSERT INTO content_cache (content_type, source, data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		entry.ContentType,
		entry.Source,
		[]byte(entry.Data),
		entry.CreatedAt,
		entry.ExpiresAt,
	).Scan(&entry.ID)
}

// AppendBatch stores several snapshots in one statement. Entry ids are not
// filled in.
func (s *ContentCacheStore) AppendBatch(ctx context.Context, entries []domain.ContentEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO content_cache (content_type, source, data, created_at, expires_at) VALUES ")
	args := make([]interface{}, 0, len(entries)*5)

	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 0; col < 5; col++ {
			if col > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*5 + col + 1))
		}
		sb.WriteString(")")
		args = append(args, e.ContentType, e.Source, []byte(e.Data), e.CreatedAt, e.ExpiresAt)
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), args...)
	return err
}

// Fresh returns, for each requested type, the newest unexpired entry of
// every source. Types with nothing fresh are left out of the result.
func (s *ContentCacheStore) Fresh(ctx context.Context, types []domain.ContentType, now time.Time) (domain.FreshContent, error) {
	result := make(domain.FreshContent)
	if len(types) == 0 {
		return result, nil
	}

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	query := `
		SELECT DISTINCT ON (content_type, source)
			id, content_type, source, data, created_at, expires_at
		FROM content_cache
		WHERE content_type = ANY($1) AND expires_at > $2
		ORDER BY content_type, source, created_at DESC, id DESC`

	var rows []contentRow
	if err := GetExecutor(ctx, s.db).SelectContext(ctx, &rows, query, pq.Array(names), now); err != nil {
		return nil, err
	}

	for _, r := range rows {
		result[r.ContentType] = append(result[r.ContentType], r.toDomain())
	}
	return result, nil
}

// contentRow scans data into a plain byte slice, which database/sql copies
// out of the driver buffer.
type contentRow struct {
	ID          int64              `db:"id"`
	ContentType domain.ContentType `db:"content_type"`
	Source      string             `db:"source"`
	Data        []byte             `db:"data"`
	CreatedAt   time.Time          `db:"created_at"`
	ExpiresAt   time.Time          `db:"expires_at"`
}

func (r contentRow) toDomain() domain.ContentEntry {
	return domain.ContentEntry{
		ID:          r.ID,
		ContentType: r.ContentType,
		Source:      r.Source,
		Data:        r.Data,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

// NewestPerType returns the creation time of the newest stored entry, expired
// or not, and the number of distinct live sources for each content type
// present. Expired rows still count toward age until the cleanup removes them.
func (s *ContentCacheStore) NewestPerType(ctx context.Context, now time.Time) (map[domain.ContentType]domain.TypeFreshness, error) {
	query := `
		SELECT content_type,
			MAX(created_at) AS newest_at,
			COUNT(DISTINCT source) FILTER (WHERE expires_at > $1) AS sources
		FROM content_cache
		GROUP BY content_type`

	var rows []struct {
		ContentType domain.ContentType `db:"content_type"`
		NewestAt    time.Time          `db:"newest_at"`
		Sources     int                `db:"sources"`
	}
	if err := GetExecutor(ctx, s.db).SelectContext(ctx, &rows, query, now); err != nil {
		return nil, err
	}

	result := make(map[domain.ContentType]domain.TypeFreshness, len(rows))
	for _, r := range rows {
		newest := r.NewestAt
		result[r.ContentType] = domain.TypeFreshness{
			ContentType:   r.ContentType,
			NewestAt:      &newest,
			ActiveSources: r.Sources,
		}
	}
	return result, nil
}

// DeleteExpired removes every entry past its freshness window.
func (s *ContentCacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM content_cache WHERE expires_at <= $1",
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
