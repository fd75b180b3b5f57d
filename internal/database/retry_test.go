package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestReadRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Read(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestReadGivesUpAfterRetries(t *testing.T) {
	calls := 0
	err := Read(context.Background(), 2, func() error {
		calls++
		return errors.New("connection reset")
	})

	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, 3, calls)
}

func TestReadDoesNotRetryNotFound(t *testing.T) {
	calls := 0
	err := Read(context.Background(), 3, func() error {
		calls++
		return gorm.ErrRecordNotFound
	})

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, 1, calls)
}
