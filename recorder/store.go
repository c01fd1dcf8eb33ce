package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/database"
)

// recentWindow is how many records the per-service rolling window keeps.
const recentWindow = 10

// Record is a persisted audit log row. RegisteredAt is assigned by the
// database at insert time; Timestamp is what the emitting service reported.
type Record struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	RegisteredAt time.Time      `json:"registered_at"`
	ActorID      string         `json:"user_id"`
	ServiceID    string         `json:"audited_service_id"`
	Action       audit.Action   `json:"action"`
	Description  string         `json:"description"`
	Entity       string         `json:"entity"`
	EntityID     string         `json:"entity_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SourceIP     string         `json:"ip,omitempty"`
}

// LogStore writes audit records to Postgres and maintains a per-service
// rolling window of the last records in Redis. The Postgres row is the
// source of truth; the window is a best-effort read-side cache.
type LogStore struct {
	db     *sql.DB
	cache  *redis.Client
	logger *slog.Logger
}

func NewLogStore(db *sql.DB, cache *redis.Client, logger *slog.Logger) *LogStore {
	return &LogStore{db: db, cache: cache, logger: logger}
}

func recentKey(serviceID string) string {
	return "audit:recent:" + serviceID
}

// Append inserts the event as a new row and pushes it onto the service's
// rolling window. A failed window update never fails the append; the row is
// durable and the window will converge on later events.
func (s *LogStore) Append(ctx context.Context, e audit.Event) (Record, error) {
	rec := Record{
		Timestamp:   e.Timestamp,
		ActorID:     e.ActorID,
		ServiceID:   e.ServiceID,
		Action:      e.Action,
		Description: e.Description,
		Entity:      e.Entity,
		EntityID:    e.EntityID,
		Metadata:    e.Metadata,
		SourceIP:    e.SourceIP,
	}

	var metadata []byte
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return Record{}, fmt.Errorf("recorder: marshal metadata: %w", err)
		}
		metadata = raw
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO audit_logs
		   (timestamp, user_id, audited_service_id, action, description, entity, entity_id, metadata, ip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, registered_at`,
		e.Timestamp, e.ActorID, e.ServiceID, string(e.Action),
		e.Description, e.Entity, e.EntityID, metadata, nullable(e.SourceIP),
	).Scan(&rec.ID, &rec.RegisteredAt)
	if err != nil {
		return Record{}, database.MapError(err)
	}

	s.pushRecent(ctx, rec)
	return rec, nil
}

// pushRecent prepends the record to the service window and trims it back to
// recentWindow entries. Both commands ride one pipeline, so the list never
// grows past the cap even under concurrent writers; the key is created
// lazily by the first push.
func (s *LogStore) pushRecent(ctx context.Context, rec Record) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.WarnContext(ctx, "recent window marshal failed", "error", err, "audit_log_id", rec.ID)
		return
	}

	pipe := s.cache.Pipeline()
	pipe.LPush(ctx, recentKey(rec.ServiceID), raw)
	pipe.LTrim(ctx, recentKey(rec.ServiceID), 0, recentWindow-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WarnContext(ctx, "recent window update failed",
			"error", err, "service", rec.ServiceID, "audit_log_id", rec.ID)
	}
}

// ListRecent returns the newest records across all services, newest first.
func (s *LogStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, registered_at, user_id, audited_service_id,
		        action, description, entity, entity_id, metadata, ip
		 FROM audit_logs
		 ORDER BY registered_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, database.MapError(err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapError(err)
	}
	return records, nil
}

// RecentByService reads the service's rolling window from Redis, falling
// back to Postgres when the window is empty or unavailable.
func (s *LogStore) RecentByService(ctx context.Context, serviceID string) ([]Record, error) {
	if s.cache != nil {
		raws, err := s.cache.LRange(ctx, recentKey(serviceID), 0, recentWindow-1).Result()
		if err != nil && err != redis.Nil {
			s.logger.WarnContext(ctx, "recent window read failed, falling back to database",
				"error", err, "service", serviceID)
		} else if len(raws) > 0 {
			records := make([]Record, 0, len(raws))
			for _, raw := range raws {
				var rec Record
				if err := json.Unmarshal([]byte(raw), &rec); err != nil {
					s.logger.WarnContext(ctx, "recent window entry unreadable, falling back to database",
						"error", err, "service", serviceID)
					records = nil
					break
				}
				records = append(records, rec)
			}
			if records != nil {
				return records, nil
			}
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, registered_at, user_id, audited_service_id,
		        action, description, entity, entity_id, metadata, ip
		 FROM audit_logs
		 WHERE audited_service_id = $1
		 ORDER BY registered_at DESC, id DESC
		 LIMIT $2`,
		serviceID, recentWindow,
	)
	if err != nil {
		return nil, database.MapError(err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapError(err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec      Record
		action   string
		metadata []byte
		ip       sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.RegisteredAt, &rec.ActorID,
		&rec.ServiceID, &action, &rec.Description, &rec.Entity, &rec.EntityID,
		&metadata, &ip); err != nil {
		return Record{}, database.MapError(err)
	}
	rec.Action = audit.Action(action)
	rec.SourceIP = ip.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("recorder: unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
