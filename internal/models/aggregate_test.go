package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatePost_Validate(t *testing.T) {
	valid := func() AggregatePost {
		return AggregatePost{
			Name:           "Portfolio Power",
			Variable:       "ac_power",
			IntervalLabel:  "ending",
			IntervalLength: 60,
			AggregateType:  "sum",
			Timezone:       "America/Denver",
		}
	}

	t.Run("valid aggregate", func(t *testing.T) {
		req := valid()
		require.NoError(t, req.Validate())
		agg := req.Aggregate()
		assert.Equal(t, "interval_mean", agg.IntervalValueType)
	})

	t.Run("only beginning and ending labels", func(t *testing.T) {
		for _, label := range []string{"instant", "event", "middle"} {
			req := valid()
			req.IntervalLabel = label
			err := req.Validate()
			fe, ok := AsFieldErrors(err)
			require.True(t, ok, "label %q", label)
			assert.Contains(t, fe, "interval_label")
		}
	})

	t.Run("aggregate type enum", func(t *testing.T) {
		req := valid()
		req.AggregateType = "product"
		err := req.Validate()
		fe, ok := AsFieldErrors(err)
		require.True(t, ok)
		assert.Contains(t, fe, "aggregate_type")
	})
}

func TestAggregateUpdate_Validate(t *testing.T) {
	now := time.Now().UTC()

	t.Run("exactly one of from and until per change", func(t *testing.T) {
		tests := []struct {
			name   string
			change AggregateObservationChange
			valid  bool
		}{
			{
				name:   "from only adds",
				change: AggregateObservationChange{ObservationID: uuid.New(), EffectiveFrom: &now},
				valid:  true,
			},
			{
				name:   "until only retires",
				change: AggregateObservationChange{ObservationID: uuid.New(), EffectiveUntil: &now},
				valid:  true,
			},
			{
				name:   "both set",
				change: AggregateObservationChange{ObservationID: uuid.New(), EffectiveFrom: &now, EffectiveUntil: &now},
			},
			{
				name:   "neither set",
				change: AggregateObservationChange{ObservationID: uuid.New()},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := &AggregateUpdate{Observations: []AggregateObservationChange{tt.change}}
				err := req.Validate()
				if tt.valid {
					assert.NoError(t, err)
					return
				}
				fe, ok := AsFieldErrors(err)
				require.True(t, ok)
				assert.Contains(t, fe, "observations.0.effective_from")
			})
		}
	})

	t.Run("missing observation id", func(t *testing.T) {
		req := &AggregateUpdate{Observations: []AggregateObservationChange{
			{EffectiveFrom: &now},
		}}
		err := req.Validate()
		fe, ok := AsFieldErrors(err)
		require.True(t, ok)
		assert.Contains(t, fe, "observations.0.observation_id")
	})
}

func TestAggregateObservation_Active(t *testing.T) {
	now := time.Now().UTC()

	m := AggregateObservation{ObservationID: uuid.New(), EffectiveFrom: &now}
	assert.True(t, m.Active())

	m.EffectiveUntil = &now
	assert.False(t, m.Active())

	deleted := AggregateObservation{ObservationID: uuid.New(), EffectiveFrom: &now, ObservationDeletedAt: &now}
	assert.False(t, deleted.Active())
}
