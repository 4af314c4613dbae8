package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConstraintViolation(t *testing.T) {
	assert.True(t, isConstraintViolation(errors.New("Error 1062: Duplicate entry 'abc' for key 'PRIMARY'")))
	assert.True(t, isConstraintViolation(errors.New("Error 1452: Cannot add or update a child row: a foreign key constraint fails")))
	assert.True(t, isConstraintViolation(errors.New("Error 1451: Cannot delete or update a parent row: a foreign key constraint fails")))
	assert.False(t, isConstraintViolation(errors.New("Error 1045: Access denied for user")))
	assert.False(t, isConstraintViolation(nil))
}

func TestQuoteAll(t *testing.T) {
	got := quoteAll([]string{"box_id", "tx_id"})
	assert.Equal(t, []string{"`box_id`", "`tx_id`"}, got)
}

func TestBulkInsertResult_OutcomeZeroValueIsBulkOK(t *testing.T) {
	var outcome InsertOutcome
	assert.Equal(t, BulkOK, outcome)
}
