package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentRound(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{0, RoundMorning},
		{11, RoundMorning},
		{12, RoundAfternoon},
		{17, RoundAfternoon},
		{18, RoundEvening},
		{23, RoundEvening},
	}
	for _, tc := range cases {
		now := time.Date(2026, 3, 14, tc.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tc.want, CurrentRound(now), "hour %d", tc.hour)
	}
}

func TestCurrentRoundUsesUTC(t *testing.T) {
	// 23:00 in UTC+8 is 15:00 UTC, an afternoon round.
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2026, 3, 14, 23, 0, 0, 0, loc)
	assert.Equal(t, RoundAfternoon, CurrentRound(now))
}
