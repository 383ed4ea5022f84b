package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Built-in room statuses. Facilities may add their own via CustomStatus.
const (
	StatusDirty      = "dirty"
	StatusInProgress = "in_progress"
	StatusClean      = "clean"
	StatusInspected  = "inspected"
)

// Room is a cleanable space tracked by housekeeping.
type Room struct {
	ID            string     `json:"id"`          // Primary key (UUID)
	Number        string     `json:"room_number"` // Human-facing identifier, e.g. "204B"
	Name          string     `json:"name"`
	Floor         int        `json:"floor"`
	Status        string     `json:"status"` // Built-in or custom status name
	Notes         string     `json:"notes"`
	LastCleanedAt *time.Time `json:"last_cleaned_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CustomStatus is a facility-defined room status.
type CustomStatus struct {
	ID        string    `json:"id"` // Primary key (UUID)
	Name      string    `json:"name"`
	Color     string    `json:"color"` // Hex color used by dashboards
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// NewID returns a fresh primary key.
func NewID() string {
	return uuid.NewString()
}

// RoomFromMap decodes a change-feed row into a Room.
func RoomFromMap(row map[string]any) (Room, error) {
	var r Room
	if err := decodeRow(row, &r); err != nil {
		return Room{}, fmt.Errorf("decode room: %w", err)
	}
	return r, nil
}

// StatusFromMap decodes a change-feed row into a CustomStatus.
func StatusFromMap(row map[string]any) (CustomStatus, error) {
	var s CustomStatus
	if err := decodeRow(row, &s); err != nil {
		return CustomStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return s, nil
}

// ToMap encodes a Room into the row shape carried by change payloads.
func (r Room) ToMap() map[string]any {
	return encodeRow(r)
}

// ToMap encodes a CustomStatus into the row shape carried by change payloads.
func (s CustomStatus) ToMap() map[string]any {
	return encodeRow(s)
}

func decodeRow(row map[string]any, out any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func encodeRow(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil
	}
	return row
}
