package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	r, err := reportRange("", "", 7, now)
	require.NoError(t, err)
	require.NotNil(t, r.Start)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), *r.Start)
	assert.Nil(t, r.End)

	r, err = reportRange("", "", 0, now)
	require.NoError(t, err)
	assert.Nil(t, r.Start)

	r, err = reportRange("2026-01-01", "2026-01-31", 7, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *r.Start)
	assert.Equal(t, time.Date(2026, 1, 31, 23, 59, 59, 999999999, time.UTC), *r.End)

	_, err = reportRange("yesterday", "", 7, now)
	assert.Error(t, err)
}
