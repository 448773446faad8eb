package entities

import (
	"errors"
	"time"
)

// AppointmentStatus mirrors the status column of the appointments table
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "Pending"
	AppointmentStatusConfirmed AppointmentStatus = "Confirmed"
	AppointmentStatusCompleted AppointmentStatus = "Completed"
	AppointmentStatusCancelled AppointmentStatus = "Cancelled"
)

// ActionableStatuses are the statuses counted as unread
var ActionableStatuses = []AppointmentStatus{AppointmentStatusPending, AppointmentStatusConfirmed}

// IsActionable reports whether the status still needs attention
func (s AppointmentStatus) IsActionable() bool {
	for _, a := range ActionableStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// AppointmentEvent is an appointment row as delivered by the change feed
type AppointmentEvent struct {
	ID              string            `json:"id"`
	SalonID         string            `json:"salon_id"`
	StaffID         string            `json:"staff_id,omitempty"`
	OwnerUserID     string            `json:"owner_user_id,omitempty"`
	Status          AppointmentStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	CustomerName    string            `json:"customer_name,omitempty"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	ServiceName     string            `json:"service_name,omitempty"`
	StaffName       string            `json:"staff_name,omitempty"`
	Price           *float64          `json:"price,omitempty"`
	AppointmentDate string            `json:"appointment_date,omitempty"`
	AppointmentTime string            `json:"appointment_time,omitempty"`
}

// Validate ensures the event can be routed
func (a *AppointmentEvent) Validate() error {
	if a.ID == "" {
		return errors.New("appointment ID cannot be empty")
	}
	if a.SalonID == "" {
		return errors.New("salon ID cannot be empty")
	}
	return nil
}

// Recipients returns the users notified about this appointment: the salon owner and the assigned staff
func (a *AppointmentEvent) Recipients() []UserID {
	var ids []UserID
	seen := make(map[UserID]bool)
	for _, id := range []string{a.OwnerUserID, a.StaffID} {
		if id == "" || seen[UserID(id)] {
			continue
		}
		seen[UserID(id)] = true
		ids = append(ids, UserID(id))
	}
	return ids
}

// LiveEventKind distinguishes raw table inserts from pre-computed broadcasts
type LiveEventKind string

const (
	LiveEventInsert    LiveEventKind = "insert"
	LiveEventBroadcast LiveEventKind = "broadcast"
)

// LiveEvent is one delivery from the change feed. ID is the appointment id for both kinds,
// so an insert and a broadcast about the same appointment are counted once.
type LiveEvent struct {
	Kind        LiveEventKind        `json:"kind"`
	ID          string               `json:"id"`
	Appointment *AppointmentEvent    `json:"appointment,omitempty"`
	Payload     *NotificationPayload `json:"payload,omitempty"`
	ReceivedAt  time.Time            `json:"received_at"`
}

// SalonID returns the salon the event belongs to, if known
func (e LiveEvent) SalonID() string {
	if e.Appointment != nil {
		return e.Appointment.SalonID
	}
	if e.Payload != nil {
		return e.Payload.SalonID
	}
	return ""
}

// StaffID returns the assigned staff, if known
func (e LiveEvent) StaffID() string {
	if e.Appointment != nil {
		return e.Appointment.StaffID
	}
	if e.Payload != nil {
		return e.Payload.StaffID
	}
	return ""
}
