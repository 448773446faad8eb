package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

// PostgresAppointmentRepository reads and writes the appointments table.
// It answers the unread query and stores appointments posted to the backend.
type PostgresAppointmentRepository struct {
	db pgQuerier
}

// NewPostgresAppointmentRepository creates a repository over db
func NewPostgresAppointmentRepository(db pgQuerier) *PostgresAppointmentRepository {
	return &PostgresAppointmentRepository{db: db}
}

// Save inserts the appointment. The insert fires the appointment_inserts notification.
func (r *PostgresAppointmentRepository) Save(ctx context.Context, a *entities.AppointmentEvent) error {
	if a == nil {
		return errors.New("appointment cannot be nil")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	status := a.Status
	if status == "" {
		status = entities.AppointmentStatusPending
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (
			id, salon_id, staff_id, owner_user_id, status, created_at,
			customer_name, customer_phone, service_name, staff_name, price,
			appointment_date, appointment_time
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.SalonID, a.StaffID, a.OwnerUserID, string(status), createdAt,
		a.CustomerName, a.CustomerPhone, a.ServiceName, a.StaffName, a.Price,
		a.AppointmentDate, a.AppointmentTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

// CountUnread counts actionable appointments in scope created after since
func (r *PostgresAppointmentRepository) CountUnread(ctx context.Context, scope entities.Scope, since time.Time) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	query, args := unreadQuery(scope, since)
	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread appointments: %w", err)
	}
	return count, nil
}

// unreadQuery builds the scoped count. Staff scopes filter on staff_id and, when known, salon_id.
func unreadQuery(scope entities.Scope, since time.Time) (string, []any) {
	statuses := make([]string, len(entities.ActionableStatuses))
	for i, s := range entities.ActionableStatuses {
		statuses[i] = string(s)
	}

	conditions := []string{"status = ANY($1)"}
	args := []any{statuses}
	add := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	switch scope.Role {
	case entities.RoleStaff:
		add("staff_id = ?", scope.StaffID)
		if scope.SalonID != "" {
			add("salon_id = ?", scope.SalonID)
		}
	default:
		add("salon_id = ?", scope.SalonID)
	}
	if !since.IsZero() {
		add("created_at > ?", since)
	}

	return "SELECT count(*) FROM appointments WHERE " + strings.Join(conditions, " AND "), args
}
