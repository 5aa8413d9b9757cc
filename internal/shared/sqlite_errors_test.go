package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLiteErrorClassification(t *testing.T) {
	busy := errors.New("sqlite: step: SQLITE_BUSY (5)")
	locked := fmt.Errorf("insert message: %w", errors.New("database is locked (5) (SQLITE_BUSY)"))
	constraint := errors.New("constraint failed: FOREIGN KEY constraint failed (787)")
	other := errors.New("no such table: sessions")

	assert.True(t, IsSQLiteBusyError(busy))
	assert.False(t, IsSQLiteLockedError(busy))
	assert.True(t, IsSQLiteLockedError(locked))
	assert.True(t, IsSQLiteConflictError(busy))
	assert.True(t, IsSQLiteConflictError(locked))
	assert.False(t, IsSQLiteConflictError(other))
	assert.False(t, IsSQLiteConflictError(nil))

	assert.True(t, IsSQLiteConstraintError(constraint))
	assert.False(t, IsSQLiteConstraintError(other))
	assert.False(t, IsSQLiteConstraintError(nil))
}
