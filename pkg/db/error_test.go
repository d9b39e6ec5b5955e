package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "claims_pkey" (SQLSTATE 23505)`)))
	assert.True(t, IsDuplicateKeyErr(errors.New("constraint failed: UNIQUE constraint failed: claims.id (2067)")))
}

func TestIsDuplicateOn(t *testing.T) {
	pg := errors.New(`ERROR: duplicate key value violates unique constraint "ux_claims_control_interchange" (SQLSTATE 23505)`)
	lite := errors.New("UNIQUE constraint failed: claims.control_interchange")

	assert.True(t, IsDuplicateOn(pg, "ux_claims_control_interchange", "claims.control_interchange"))
	assert.True(t, IsDuplicateOn(lite, "ux_claims_control_interchange", "claims.control_interchange"))
	assert.False(t, IsDuplicateOn(pg, "claims_pkey"))
	assert.False(t, IsDuplicateOn(errors.New("timeout"), "claims.control_interchange"))
	assert.False(t, IsDuplicateOn(lite, ""))
}
