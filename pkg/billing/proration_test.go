package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	tests := []struct {
		name       string
		oldAmount  int64
		newAmount  int64
		now        time.Time
		wantCredit int64
		wantCharge int64
	}{
		{name: "half way through", oldAmount: 1000, newAmount: 2000, now: start.Add(15 * 24 * time.Hour), wantCredit: 500, wantCharge: 1500},
		{name: "at period start", oldAmount: 1000, newAmount: 2000, now: start, wantCredit: 1000, wantCharge: 1000},
		{name: "after period end", oldAmount: 1000, newAmount: 2000, now: end.Add(time.Hour), wantCredit: 0, wantCharge: 2000},
		{name: "before period start is clamped", oldAmount: 1000, newAmount: 2000, now: start.Add(-time.Hour), wantCredit: 1000, wantCharge: 1000},
		{name: "downgrade yields zero charge", oldAmount: 2000, newAmount: 500, now: start.Add(10 * 24 * time.Hour), wantCredit: 1333, wantCharge: 0},
		{name: "rounds half away from zero", oldAmount: 3, newAmount: 10, now: start.Add(15 * 24 * time.Hour), wantCredit: 2, wantCharge: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prorate(tt.oldAmount, tt.newAmount, start, end, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCredit, got.Credit)
			assert.Equal(t, tt.wantCharge, got.Charge)
		})
	}
}

func TestProrate_Bounds(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(31 * 24 * time.Hour)
	amounts := []int64{0, 1, 99, 999, 4999, 12000}

	for _, oldAmount := range amounts {
		for _, newAmount := range amounts {
			for h := -24; h <= 32*24; h += 37 {
				now := start.Add(time.Duration(h) * time.Hour)
				got, err := Prorate(oldAmount, newAmount, start, end, now)
				require.NoError(t, err)
				require.GreaterOrEqual(t, got.Charge, int64(0))
				require.LessOrEqual(t, got.Charge, newAmount)
				require.LessOrEqual(t, got.Credit, oldAmount)
				require.GreaterOrEqual(t, got.Credit, int64(0))
			}
		}
	}
}

func TestProrate_InvalidInput(t *testing.T) {
	now := time.Now()
	_, err := Prorate(100, 200, now, now, now)
	require.ErrorIs(t, err, ErrInvalidProrationInput)

	_, err = Prorate(-1, 200, now, now.Add(time.Hour), now)
	require.ErrorIs(t, err, ErrInvalidProrationInput)
}
