package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    EventFilter
		wantErr bool
	}{
		{"", EventAll, false},
		{"*", EventAll, false},
		{"all", EventAll, false},
		{"INSERT", EventInsert, false},
		{" update ", EventUpdate, false},
		{"delete", EventDelete, false},
		{"upsert", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEventFilter(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayload_Row(t *testing.T) {
	p := Payload{FieldNew: map[string]any{"id": "a"}, FieldOld: map[string]any{"id": "b"}}
	assert.Equal(t, "a", p.Row()["id"])

	del := Payload{FieldNew: map[string]any{}, FieldOld: map[string]any{"id": "b"}}
	assert.Equal(t, "b", del.Row()["id"])

	assert.Nil(t, Payload{}.Row())
}

func TestOptions_Matches(t *testing.T) {
	update := Payload{FieldEventType: "UPDATE", FieldNew: map[string]any{"id": "r1", "floor": float64(2)}}

	assert.True(t, Options{}.Matches(update))
	assert.True(t, Options{Event: EventAll}.Matches(update))
	assert.True(t, Options{Event: EventUpdate}.Matches(update))
	assert.False(t, Options{Event: EventInsert}.Matches(update))
	assert.True(t, Options{Filter: &Filter{Column: "floor", Value: "2"}}.Matches(update))
	assert.False(t, Options{Filter: &Filter{Column: "id", Value: "r2"}}.Matches(update))
	assert.False(t, Options{Filter: &Filter{Column: "id", Value: "r1"}}.Matches(Payload{}))
}

func TestOptions_MatchesLargeNumbers(t *testing.T) {
	row := Payload{FieldEventType: "update", FieldNew: map[string]any{"id": float64(1234567), "score": 0.25}}

	assert.True(t, Options{Filter: &Filter{Column: "id", Value: "1234567"}}.Matches(row))
	assert.True(t, Options{Filter: &Filter{Column: "score", Value: "0.25"}}.Matches(row))
	assert.False(t, Options{Filter: &Filter{Column: "id", Value: "1.234567e+06"}}.Matches(row))
	assert.False(t, Options{Filter: &Filter{Column: "missing", Value: ""}}.Matches(row))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"r1", "r1"},
		{float64(2), "2"},
		{float64(1234567), "1234567"},
		{float64(12345678901), "12345678901"},
		{-1.5, "-1.5"},
		{int64(42), "42"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in), "%#v", tt.in)
	}
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "status=eq.dirty", Filter{Column: "status", Value: "dirty"}.String())
}
