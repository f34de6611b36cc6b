package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// SQLStore implements Store over database/sql. sqlite and postgres share
// every query; only DDL and placeholder style differ. Timestamps are stored
// as unix seconds so range comparisons behave the same on both engines.
type SQLStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	log *slog.Logger
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, placeholder sq.PlaceholderFormat, schema []string, log *slog.Logger) (*SQLStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &SQLStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(placeholder),
		log: log,
	}
	if err := s.migrate(schema); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(schema []string) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *SQLStore) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *SQLStore) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

func (s *SQLStore) IsPublished(ctx context.Context, id string) (bool, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").From("publications").Where(sq.Eq{"id": id}))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check published %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLStore) Record(ctx context.Context, rec PublicationRecord) error {
	q := s.sb.Insert("publications").
		Columns("id", "title", "category", "delivery_id", "published_at").
		Values(rec.ID, rec.Title, rec.Category, rec.DeliveryID, rec.PublishedAt.Unix()).
		Suffix("ON CONFLICT (id) DO UPDATE SET title = excluded.title, category = excluded.category, " +
			"delivery_id = excluded.delivery_id, published_at = excluded.published_at")
	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("record publication %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) CountPublishedSince(ctx context.Context, since time.Time) (int, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").From("publications").
		Where(sq.GtOrEq{"published_at": since.Unix()}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count publications: %w", err)
	}
	return n, nil
}

func (s *SQLStore) PublishedSince(ctx context.Context, since time.Time) ([]PublicationRecord, error) {
	rows, err := s.query(ctx, s.sb.Select("id", "title", "category", "delivery_id", "published_at").
		From("publications").
		Where(sq.GtOrEq{"published_at": since.Unix()}).
		OrderBy("published_at ASC"))
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var out []PublicationRecord
	for rows.Next() {
		rec, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) LastPublication(ctx context.Context) (PublicationRecord, bool, error) {
	row, err := s.queryRow(ctx, s.sb.Select("id", "title", "category", "delivery_id", "published_at").
		From("publications").
		OrderBy("published_at DESC").
		Limit(1))
	if err != nil {
		return PublicationRecord{}, false, err
	}
	rec, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PublicationRecord{}, false, nil
	}
	if err != nil {
		return PublicationRecord{}, false, err
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPublication(r scanner) (PublicationRecord, error) {
	var rec PublicationRecord
	var ts int64
	if err := r.Scan(&rec.ID, &rec.Title, &rec.Category, &rec.DeliveryID, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan publication: %w", err)
	}
	rec.PublishedAt = time.Unix(ts, 0).UTC()
	return rec, nil
}

func (s *SQLStore) UpsertEngagement(ctx context.Context, e EngagementSample) error {
	q := s.sb.Insert("engagement").
		Columns("delivery_id", "posted_at", "views", "forwards", "reactions").
		Values(e.DeliveryID, e.PostedAt.Unix(), e.Views, e.Forwards, e.Reactions).
		Suffix("ON CONFLICT (delivery_id) DO UPDATE SET posted_at = excluded.posted_at, " +
			"views = excluded.views, forwards = excluded.forwards, reactions = excluded.reactions")
	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("upsert engagement %s: %w", e.DeliveryID, err)
	}
	return nil
}

func (s *SQLStore) EngagementSince(ctx context.Context, since time.Time) ([]EngagementSample, error) {
	rows, err := s.query(ctx, s.sb.Select("delivery_id", "posted_at", "views", "forwards", "reactions").
		From("engagement").
		Where(sq.GtOrEq{"posted_at": since.Unix()}).
		OrderBy("posted_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("list engagement: %w", err)
	}
	defer rows.Close()

	var out []EngagementSample
	for rows.Next() {
		var e EngagementSample
		var ts int64
		if err := rows.Scan(&e.DeliveryID, &ts, &e.Views, &e.Forwards, &e.Reactions); err != nil {
			return nil, fmt.Errorf("scan engagement: %w", err)
		}
		e.PostedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) TopPublications(ctx context.Context, limit int) ([]RankedPublication, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, s.sb.Select(
		"p.id", "p.title", "p.category", "p.delivery_id", "p.published_at",
		"e.posted_at", "e.views", "e.forwards", "e.reactions").
		From("publications p").
		Join("engagement e ON p.delivery_id = e.delivery_id").
		OrderBy("(e.views + e.forwards * 5 + e.reactions * 2) DESC", "p.published_at DESC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("top publications: %w", err)
	}
	defer rows.Close()

	var out []RankedPublication
	for rows.Next() {
		var r RankedPublication
		var published, posted int64
		if err := rows.Scan(&r.ID, &r.Title, &r.Category, &r.DeliveryID, &published,
			&posted, &r.Views, &r.Forwards, &r.Reactions); err != nil {
			return nil, fmt.Errorf("scan top publication: %w", err)
		}
		r.PublishedAt = time.Unix(published, 0).UTC()
		r.PostedAt = time.Unix(posted, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) ReplaceEvents(ctx context.Context, today time.Time, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin events tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// the scrape is authoritative: past rows go, upcoming rows are replaced
	del, args, err := s.sb.Delete("events").ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	for _, ev := range events {
		if dayKey(ev.Date) < dayKey(today) {
			continue
		}
		ins, args, err := s.sb.Insert("events").
			Columns("name", "event_date", "keywords").
			Values(ev.Name, dayKey(ev.Date), strings.Join(ev.Keywords, ",")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
			return fmt.Errorf("insert event %q: %w", ev.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) EventsOn(ctx context.Context, day time.Time) ([]Event, error) {
	return s.listEvents(ctx, s.sb.Select("name", "event_date", "keywords").
		From("events").
		Where(sq.Eq{"event_date": dayKey(day)}).
		OrderBy("name"))
}

func (s *SQLStore) UpcomingEvents(ctx context.Context, from time.Time, limit int) ([]Event, error) {
	q := s.sb.Select("name", "event_date", "keywords").
		From("events").
		Where(sq.GtOrEq{"event_date": dayKey(from)}).
		OrderBy("event_date", "name")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.listEvents(ctx, q)
}

func (s *SQLStore) listEvents(ctx context.Context, q sq.SelectBuilder) ([]Event, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var date, keywords string
		if err := rows.Scan(&ev.Name, &date, &keywords); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse event date %q: %w", date, err)
		}
		if keywords != "" {
			ev.Keywords = strings.Split(keywords, ",")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLStore) RetentionSweep(ctx context.Context, olderThan time.Time) (SweepResult, error) {
	var res SweepResult
	steps := []struct {
		b    sq.DeleteBuilder
		dest *int64
	}{
		{s.sb.Delete("publications").Where(sq.Lt{"published_at": olderThan.Unix()}), &res.Publications},
		{s.sb.Delete("engagement").Where(sq.Lt{"posted_at": olderThan.Unix()}), &res.Engagement},
		{s.sb.Delete("events").Where(sq.Lt{"event_date": dayKey(olderThan)}), &res.Events},
	}
	for _, st := range steps {
		r, err := s.exec(ctx, st.b)
		if err != nil {
			return res, fmt.Errorf("retention sweep: %w", err)
		}
		n, err := r.RowsAffected()
		if err == nil {
			*st.dest = n
		}
	}
	s.log.Info("retention sweep done",
		"publications", res.Publications, "engagement", res.Engagement, "events", res.Events)
	return res, nil
}
