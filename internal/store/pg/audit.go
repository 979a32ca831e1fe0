package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"tourneyhub.io/internal/audit"
)

var _ audit.Sink = (*AuditStore)(nil)

const auditColumns = `a.event_id, a.client_id, a.user_id, coalesce(u.name, ''), a.action, a.resource_type,
	a.resource_id, a.old_values, a.new_values, coalesce(a.ip_address, ''), coalesce(a.user_agent, ''), a.created_at`

// AuditStore appends to and reads from audit_logs.
type AuditStore struct {
	db *sql.DB
}

func marshalValues(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return data, nil
}

// Write inserts one audit entry.
func (s *AuditStore) Write(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	oldValues, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs (event_id, client_id, user_id, action, resource_type, resource_id,
			old_values, new_values, ip_address, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, nullInt64(e.ClientID), nullInt64(e.UserID), e.Action, e.ResourceType, e.ResourceID,
		oldValues, newValues, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), e.Timestamp)
	return err
}

// ClientLogs returns the newest entries of a client.
func (s *AuditStore) ClientLogs(ctx context.Context, clientID int64, limit, offset int) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.query(ctx, `select `+auditColumns+`
		from audit_logs a
		left join users u on u.id = a.user_id
		where a.client_id = $1
		order by a.created_at desc
		limit $2 offset $3`, clientID, limit, offset)
}

// TournamentLogs returns the newest entries about a tournament.
func (s *AuditStore) TournamentLogs(ctx context.Context, tournamentID int64, limit int) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.query(ctx, `select `+auditColumns+`
		from audit_logs a
		left join users u on u.id = a.user_id
		where a.resource_type = 'tournament' and a.resource_id = $1
		order by a.created_at desc
		limit $2`, strconv.FormatInt(tournamentID, 10), limit)
}

func (s *AuditStore) query(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			clientID  sql.NullInt64
			userID    sql.NullInt64
			oldValues []byte
			newValues []byte
		)
		if err := rows.Scan(&e.ID, &clientID, &userID, &e.UserName, &e.Action, &e.ResourceType,
			&e.ResourceID, &oldValues, &newValues, &e.IP, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, err
		}
		e.ClientID = int64Ptr(clientID)
		e.UserID = int64Ptr(userID)
		if len(oldValues) > 0 {
			e.OldValues = json.RawMessage(oldValues)
		}
		if len(newValues) > 0 {
			e.NewValues = json.RawMessage(newValues)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
