package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttemptActivate(t *testing.T) {
	next, conflict := AttemptActivate(StatusAvailable)
	assert.Equal(t, StatusActive, next)
	assert.Equal(t, ConflictNone, conflict)

	next, conflict = AttemptActivate(StatusActive)
	assert.Equal(t, StatusActive, next, "status never regresses")
	assert.Equal(t, ConflictAlreadyActive, conflict)

	next, conflict = AttemptActivate(StatusUsed)
	assert.Equal(t, StatusUsed, next, "used is terminal")
	assert.Equal(t, ConflictExpired, conflict)
}

func TestStatusEffective(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.Equal(t, StatusActive, StatusActive.Effective(&future, now))
	assert.Equal(t, StatusUsed, StatusActive.Effective(&past, now))
	assert.Equal(t, StatusAvailable, StatusAvailable.Effective(nil, now))
	assert.Equal(t, StatusUsed, StatusUsed.Effective(&future, now), "used never comes back")
}
