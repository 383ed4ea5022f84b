package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id := NewID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("NewID() = %q, not a UUID: %v", id, err)
	}
	if NewID() == id {
		t.Error("NewID() returned the same id twice")
	}
}

func TestRoomFromMap(t *testing.T) {
	row := map[string]any{
		"id":              "0b6f8a52-8a8e-4f44-9d0c-5c3b0f2a9a11",
		"room_number":     "204B",
		"name":            "Conference",
		"floor":           float64(2),
		"status":          StatusDirty,
		"notes":           "",
		"last_cleaned_at": "2024-01-15T12:00:00.123456+00:00",
		"updated_at":      "2024-01-15T12:30:00+00:00",
	}

	r, err := RoomFromMap(row)
	if err != nil {
		t.Fatalf("RoomFromMap failed: %v", err)
	}

	if r.Number != "204B" {
		t.Errorf("Number = %q, want %q", r.Number, "204B")
	}
	if r.Floor != 2 {
		t.Errorf("Floor = %d, want 2", r.Floor)
	}
	if r.Status != StatusDirty {
		t.Errorf("Status = %q, want %q", r.Status, StatusDirty)
	}
	if r.LastCleanedAt == nil {
		t.Fatal("LastCleanedAt = nil, want a time")
	}
	want := time.Date(2024, 1, 15, 12, 0, 0, 123456000, time.UTC)
	if !r.LastCleanedAt.Equal(want) {
		t.Errorf("LastCleanedAt = %v, want %v", r.LastCleanedAt, want)
	}
}

func TestRoomFromMap_NullTimestamp(t *testing.T) {
	r, err := RoomFromMap(map[string]any{
		"id":              "r1",
		"last_cleaned_at": nil,
	})
	if err != nil {
		t.Fatalf("RoomFromMap failed: %v", err)
	}
	if r.LastCleanedAt != nil {
		t.Errorf("LastCleanedAt = %v, want nil", r.LastCleanedAt)
	}
}

func TestRoomFromMap_BadField(t *testing.T) {
	_, err := RoomFromMap(map[string]any{"floor": "second"})
	if err == nil {
		t.Error("expected error for non-numeric floor")
	}
}

func TestRoom_ToMapRoundTrip(t *testing.T) {
	r := Room{
		ID:        "r1",
		Number:    "101",
		Floor:     1,
		Status:    StatusClean,
		UpdatedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	got, err := RoomFromMap(r.ToMap())
	if err != nil {
		t.Fatalf("RoomFromMap failed: %v", err)
	}
	if got.ID != r.ID || got.Number != r.Number || got.Status != r.Status {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
	if !got.UpdatedAt.Equal(r.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, r.UpdatedAt)
	}
}

func TestStatusFromMap(t *testing.T) {
	s, err := StatusFromMap(map[string]any{
		"id":         "s1",
		"name":       "needs_linen",
		"color":      "#ffaa00",
		"sort_order": float64(4),
	})
	if err != nil {
		t.Fatalf("StatusFromMap failed: %v", err)
	}
	if s.Name != "needs_linen" {
		t.Errorf("Name = %q, want %q", s.Name, "needs_linen")
	}
	if s.SortOrder != 4 {
		t.Errorf("SortOrder = %d, want 4", s.SortOrder)
	}
}
