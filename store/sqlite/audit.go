package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SINKS - audit_log and notifications tables
// =============================================================================

func (s *Store) RecordAudit(ctx context.Context, e leave.AuditEvent) error {
	oldValue, err := encodeJSON(e.OldValue)
	if err != nil {
		return fmt.Errorf("audit %s old value: %w", e.ID, err)
	}
	newValue, err := encodeJSON(e.NewValue)
	if err != nil {
		return fmt.Errorf("audit %s new value: %w", e.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, old_value, new_value, on_behalf_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, string(e.Action), e.EntityType, e.EntityID, oldValue, newValue, e.OnBehalfOf, formatTime(e.At),
	)
	return err
}

func (s *Store) Notify(ctx context.Context, n leave.Notification) error {
	recipients, err := json.Marshal(n.RecipientIDs)
	if err != nil {
		return err
	}
	payload, err := encodeJSON(n.Payload)
	if err != nil {
		return fmt.Errorf("notification %s payload: %w", n.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipients, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, string(recipients), string(n.Kind), payload, formatTime(n.At),
	)
	return err
}

// ListAuditEvents returns the trail for one entity, oldest first.
func (s *Store) ListAuditEvents(ctx context.Context, entityType, entityID string) ([]leave.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, entity_type, entity_id, old_value, new_value, on_behalf_of, created_at
		FROM audit_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at, id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.AuditEvent
	for rows.Next() {
		var (
			e                  leave.AuditEvent
			oldValue, newValue sql.NullString
			at                 string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&oldValue, &newValue, &e.OnBehalfOf, &at); err != nil {
			return nil, err
		}
		if e.OldValue, err = decodeJSON(oldValue); err != nil {
			return nil, err
		}
		if e.NewValue, err = decodeJSON(newValue); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListNotifications returns every notification addressed to userID, oldest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]leave.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.recipients, n.kind, n.payload, n.created_at
		FROM notifications n
		WHERE EXISTS (SELECT 1 FROM json_each(n.recipients) r WHERE r.value = ?)
		ORDER BY n.created_at, n.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.Notification
	for rows.Next() {
		var (
			n          leave.Notification
			recipients string
			payload    sql.NullString
			at         string
		)
		if err := rows.Scan(&n.ID, &recipients, &n.Kind, &payload, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recipients), &n.RecipientIDs); err != nil {
			return nil, fmt.Errorf("corrupt recipients on %s: %w", n.ID, err)
		}
		if n.Payload, err = decodeJSON(payload); err != nil {
			return nil, err
		}
		n.At = parseTime(at)
		out = append(out, n)
	}
	return out, rows.Err()
}

func encodeJSON(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, fmt.Errorf("corrupt json column: %w", err)
	}
	return v, nil
}
