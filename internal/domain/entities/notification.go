package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotificationPayload is the pre-computed body of an appointment notification.
// It is broadcast on the per-user channel and embedded into web push messages.
type NotificationPayload struct {
	AppointmentID string    `json:"appointmentId"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	CustomerName  string    `json:"customerName,omitempty"`
	ServiceName   string    `json:"serviceName,omitempty"`
	StaffName     string    `json:"staffName,omitempty"`
	StaffID       string    `json:"staffId,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	SalonID       string    `json:"salonId,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewAppointmentPayload renders the notification text for a newly created appointment
func NewAppointmentPayload(a *AppointmentEvent, recipient UserID, now time.Time) *NotificationPayload {
	staffName := a.StaffName
	if staffName == "" {
		staffName = "Unassigned"
	}
	serviceName := a.ServiceName
	if serviceName == "" {
		serviceName = "Service"
	}

	title := "New appointment"
	if a.CustomerName != "" {
		title = fmt.Sprintf("New appointment • %s", a.CustomerName)
	}

	when := strings.TrimSpace(a.AppointmentDate + " " + a.AppointmentTime)
	body := fmt.Sprintf("%s • %s", serviceName, staffName)
	if when != "" {
		body = fmt.Sprintf("%s • %s", body, when)
	}

	amount := "N/A"
	if a.Price != nil {
		amount = strconv.FormatFloat(*a.Price, 'f', -1, 64) + " DT"
	}

	return &NotificationPayload{
		AppointmentID: a.ID,
		Title:         title,
		Body:          body,
		CustomerName:  a.CustomerName,
		ServiceName:   serviceName,
		StaffName:     staffName,
		StaffID:       a.StaffID,
		Amount:        amount,
		SalonID:       a.SalonID,
		UserID:        string(recipient),
		Timestamp:     now,
	}
}

// PushMessageType tells the background worker what to do with a push message
type PushMessageType string

const (
	PushMessageAppointment PushMessageType = "appointment_notification"
	PushMessageBadge       PushMessageType = "badge_update"
)

// PushMessage is the JSON document delivered to the background execution context
type PushMessage struct {
	Type       PushMessageType        `json:"type"`
	Title      string                 `json:"title,omitempty"`
	Body       string                 `json:"body,omitempty"`
	Icon       string                 `json:"icon,omitempty"`
	Badge      string                 `json:"badge,omitempty"`
	Tag        string                 `json:"tag,omitempty"`
	BadgeCount *int                   `json:"badge_count,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewAppointmentPushMessage wraps a payload for web push delivery
func NewAppointmentPushMessage(p *NotificationPayload) *PushMessage {
	return &PushMessage{
		Type:  PushMessageAppointment,
		Title: p.Title,
		Body:  p.Body,
		Icon:  "/icon-192.png",
		Badge: "/badge-72.png",
		Tag:   "appointment-" + p.AppointmentID,
		Data: map[string]interface{}{
			"appointmentId": p.AppointmentID,
			"customerName":  p.CustomerName,
			"serviceName":   p.ServiceName,
			"staffName":     p.StaffName,
			"amount":        p.Amount,
			"url":           "/dashboard",
		},
	}
}

// NewBadgePushMessage builds a silent badge update; count 0 clears the badge
func NewBadgePushMessage(count int) *PushMessage {
	if count < 0 {
		count = 0
	}
	return &PushMessage{
		Type:       PushMessageBadge,
		BadgeCount: &count,
	}
}
