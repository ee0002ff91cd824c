package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldErrors(t *testing.T) {
	t.Run("OrNil returns nil when empty", func(t *testing.T) {
		errs := FieldErrors{}
		assert.NoError(t, errs.OrNil())
	})

	t.Run("collects multiple messages per field", func(t *testing.T) {
		errs := FieldErrors{}
		errs.Add("name", "Missing data for required field.")
		errs.Add("name", "Invalid characters in string.")
		errs.Add("latitude", "Must be greater than or equal to -90 and less than or equal to 90.")
		require.Error(t, errs.OrNil())
		assert.Len(t, errs["name"], 2)
		assert.Len(t, errs["latitude"], 1)
	})

	t.Run("Extend prefixes nested fields", func(t *testing.T) {
		inner := FieldErrors{}
		inner.Add("surface_tilt", "Value required when tracking_type is fixed.")
		outer := FieldErrors{}
		outer.Extend("modeling_parameters", inner)
		assert.Contains(t, outer, "modeling_parameters.surface_tilt")

		flat := FieldErrors{}
		flat.Extend("", inner)
		assert.Contains(t, flat, "surface_tilt")
	})

	t.Run("Error renders deterministically", func(t *testing.T) {
		errs := FieldErrors{}
		errs.Add("b", "second")
		errs.Add("a", "first")
		assert.Equal(t, "a: first; b: second", errs.Error())
	})

	t.Run("AsFieldErrors unwraps wrapped errors", func(t *testing.T) {
		errs := FieldErrors{}
		errs.Add("name", "Missing data for required field.")
		wrapped := fmt.Errorf("validating request: %w", errs.OrNil())
		fe, ok := AsFieldErrors(wrapped)
		require.True(t, ok)
		assert.Contains(t, fe, "name")

		_, ok = AsFieldErrors(errors.New("plain"))
		assert.False(t, ok)
	})
}
