package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2024-03-01T10:00:00Z"`, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-03-01T18:00:00+08:00"`, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-03-01T10:00:00.250000"`, time.Date(2024, 3, 1, 10, 0, 0, 250e6, time.UTC)},
		{`"2024-03-01 10:00:00"`, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-03-01"`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{`null`, time.Time{}},
		{`""`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got Time
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.True(t, tt.want.Equal(got.Time), "got %s", got.Time)
		})
	}
}

func TestTimeUnmarshalRejectsGarbage(t *testing.T) {
	var got Time
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &got))
	assert.Error(t, json.Unmarshal([]byte(`42`), &got))
}

func TestTimeMarshal(t *testing.T) {
	out, err := json.Marshal(struct {
		At   Time  `json:"at"`
		Zero Time  `json:"zero"`
		Nil  *Time `json:"nil"`
	}{At: Time{time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2024-03-01T10:00:00Z","zero":null,"nil":null}`, string(out))
}
