package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleAssignmentReplaceDeletesThenInserts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleAssignmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_roles WHERE personnel_id = $1")).
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO user_roles").WithArgs(sqlmock.AnyArg(), "p-1", "r-admin", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_roles").WithArgs(sqlmock.AnyArg(), "p-1", "r-member", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Replace(context.Background(), "p-1", []string{"r-admin", "r-member"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleAssignmentReplaceRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleAssignmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_roles").WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_roles").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := repo.Replace(context.Background(), "p-1", []string{"r-admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert role assignment")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleAssignmentExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM user_roles WHERE personnel_id = $1 AND role_id = $2)")).
		WithArgs("p-1", "r-instructor").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	holds, err := repo.Exists(context.Background(), "p-1", "r-instructor")
	require.NoError(t, err)
	assert.True(t, holds)
	assert.NoError(t, mock.ExpectationsWereMet())
}
