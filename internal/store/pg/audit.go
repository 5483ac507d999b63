package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clientportal.io/internal/audit"
)

func (s *Store) Append(ctx context.Context, ev *audit.Event) error {
	details := []byte("{}")
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events(id, actor_id, actor_type, company_id, action, resource_type, resource_id,
			details, ip_address, user_agent, request_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ev.ID, nullString(ev.ActorID), string(ev.ActorType), nullString(ev.CompanyID), string(ev.Action),
		nullString(ev.ResourceType), nullString(ev.ResourceID), details,
		ev.IPAddress, ev.UserAgent, ev.RequestID, ev.CreatedAt)
	return err
}

// whereClause renders filter as SQL conditions with positional arguments.
func whereClause(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CompanyID != "" {
		add("company_id = $%d", f.CompanyID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.ActorType != "" {
		add("actor_type = $%d", string(f.ActorType))
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}
	if len(f.Actions) > 0 {
		placeholders := make([]string, 0, len(f.Actions))
		for _, a := range f.Actions {
			args = append(args, string(a))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, "action in ("+strings.Join(placeholders, ", ")+")")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " where " + strings.Join(conds, " and "), args
}

func (s *Store) List(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	filter = filter.Normalize()
	where, args := whereClause(filter)

	page := audit.Page{Limit: filter.Limit, Offset: filter.Offset, Events: []audit.Event{}}
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_events`+where, args...).Scan(&page.Total); err != nil {
		return audit.Page{}, err
	}

	n := len(args)
	query := `select id, actor_id, actor_type, company_id, action, resource_type, resource_id, details,
			ip_address, user_agent, request_id, created_at
		from audit_events` + where +
		fmt.Sprintf(" order by created_at desc, id desc limit $%d offset $%d", n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return audit.Page{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev                                           audit.Event
			actorID, companyID, resourceType, resourceID sql.NullString
			actorType, action                            string
			details                                      []byte
		)
		if err := rows.Scan(&ev.ID, &actorID, &actorType, &companyID, &action, &resourceType, &resourceID,
			&details, &ev.IPAddress, &ev.UserAgent, &ev.RequestID, &ev.CreatedAt); err != nil {
			return audit.Page{}, err
		}
		ev.ActorID = stringOrNil(actorID)
		ev.CompanyID = stringOrNil(companyID)
		ev.ResourceType = stringOrNil(resourceType)
		ev.ResourceID = stringOrNil(resourceID)
		ev.ActorType = audit.ActorType(actorType)
		ev.Action = audit.Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return audit.Page{}, fmt.Errorf("decode details: %w", err)
			}
			if len(ev.Details) == 0 {
				ev.Details = nil
			}
		}
		page.Events = append(page.Events, ev)
	}
	return page, rows.Err()
}

func (s *Store) MultiOriginActors(ctx context.Context, since time.Time) ([]audit.OriginSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select actor_id, actor_type, count(distinct ip_address),
		       string_agg(distinct ip_address, ',' order by ip_address), max(created_at)
		from audit_events
		where actor_id is not null and ip_address <> '' and created_at >= $1
		group by actor_id, actor_type
		having count(distinct ip_address) > 1
		order by 3 desc, 5 desc`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.OriginSummary
	for rows.Next() {
		var (
			sum       audit.OriginSummary
			actorType string
			addrs     string
		)
		if err := rows.Scan(&sum.ActorID, &actorType, &sum.DistinctAddresses, &addrs, &sum.LastSeen); err != nil {
			return nil, err
		}
		sum.ActorType = audit.ActorType(actorType)
		sum.Addresses = strings.Split(addrs, ",")
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) CountByAction(ctx context.Context, since time.Time) (map[audit.Action]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		select action, count(*) from audit_events where created_at >= $1 group by action`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[audit.Action]int64)
	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		out[audit.Action(action)] = n
	}
	return out, rows.Err()
}
