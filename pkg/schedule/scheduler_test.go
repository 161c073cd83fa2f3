package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAt(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	spec := Spec{Kind: KindAt, At: at}

	next, err := spec.Next(time.Now(), false)
	require.NoError(t, err)
	assert.True(t, next.Equal(at))

	t.Run("fires once", func(t *testing.T) {
		next, err := spec.Next(time.Now(), true)
		require.NoError(t, err)
		assert.True(t, next.IsZero())
	})

	t.Run("requires a time", func(t *testing.T) {
		_, err := Spec{Kind: KindAt}.Next(time.Now(), false)
		assert.ErrorContains(t, err, "requires a time")
	})
}

func TestNextEvery(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("without anchor", func(t *testing.T) {
		next, err := Spec{Kind: KindEvery, Every: time.Minute}.Next(now, false)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), next)
	})

	t.Run("aligned to anchor", func(t *testing.T) {
		anchor := now.Add(-90 * time.Second)
		spec := Spec{Kind: KindEvery, Every: time.Minute, Anchor: &anchor}

		next, err := spec.Next(now, false)
		require.NoError(t, err)
		assert.Equal(t, anchor.Add(2*time.Minute), next)
	})

	t.Run("future anchor", func(t *testing.T) {
		anchor := now.Add(time.Hour)
		spec := Spec{Kind: KindEvery, Every: time.Minute, Anchor: &anchor}

		next, err := spec.Next(now, false)
		require.NoError(t, err)
		assert.Equal(t, anchor, next)
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		_, err := Spec{Kind: KindEvery}.Next(now, false)
		assert.ErrorContains(t, err, "positive interval")
	})
}

func TestNextCron(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 30, 0, 0, time.UTC)

	t.Run("hourly", func(t *testing.T) {
		next, err := Spec{Kind: KindCron, Expr: "0 * * * *"}.Next(now, false)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2030, 1, 1, 13, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("descriptor", func(t *testing.T) {
		next, err := Spec{Kind: KindCron, Expr: "@daily"}.Next(now, false)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("with timezone", func(t *testing.T) {
		spec := Spec{Kind: KindCron, Expr: "0 9 * * *", TZ: "America/New_York"}
		next, err := spec.Next(now, false)
		require.NoError(t, err)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		assert.Equal(t, 9, next.In(loc).Hour())
		assert.True(t, next.After(now))
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := Spec{Kind: KindCron, Expr: "invalid"}.Next(now, false)
		assert.ErrorContains(t, err, "invalid cron expression")
	})

	t.Run("invalid timezone", func(t *testing.T) {
		_, err := Spec{Kind: KindCron, Expr: "0 9 * * *", TZ: "Invalid/Zone"}.Next(now, false)
		assert.ErrorContains(t, err, "invalid timezone")
	})

	t.Run("missing expression", func(t *testing.T) {
		_, err := Spec{Kind: KindCron}.Next(now, false)
		assert.ErrorContains(t, err, "requires an expression")
	})
}

func TestUnknownKind(t *testing.T) {
	err := Spec{Kind: "sometimes"}.Validate()
	assert.ErrorContains(t, err, "unknown schedule kind")
}
