package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, apperr.KindTransactionConflict},
		{"deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), apperr.KindTransactionConflict},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, apperr.KindTransactionConflict},
		{"unique", &pgconn.PgError{Code: "23505"}, apperr.KindTransactionConflict},
		{"syntax", &pgconn.PgError{Code: "42601"}, apperr.KindInternal},
		{"already classified", apperr.NotFound("product", "p1"), apperr.KindNotFound},
		{"plain", errors.New("conn reset"), apperr.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(Classify(tt.err)))
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsUniqueViolation(errors.New("x")))
}
