package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var voucherColumns = []string{
	"id", "title", "description", "discount", "points_required",
	"min_membership_id", "expiry_date", "is_active", "created_at",
}

func setupMockVoucherStore(t *testing.T, codes ...string) (*VoucherStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vs := NewVoucherStore(db)
	vs.SetClock(func() time.Time { return testNow })
	vs.newCode = func() (string, error) {
		if len(codes) == 0 {
			return "", errors.New("no more codes")
		}
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	return vs, mock
}

func expectVoucherAndUser(mock sqlmock.Sqlmock, points int) {
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM vouchers WHERE id = \?`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(voucherColumns).
			AddRow(3, "Coffee", "", 10, 200, 1, testNow.Add(time.Hour), 1, testNow))
	mock.ExpectQuery(`SELECT points, membership_id FROM users WHERE id = \?`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"points", "membership_id"}).AddRow(points, 1))
}

func expectRemaining(mock sqlmock.Sqlmock, points int) {
	mock.ExpectQuery(`SELECT points FROM users WHERE id = \?`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(points))
}

func TestRedeemTransaction(t *testing.T) {
	tests := []struct {
		name      string
		codes     []string
		mockFn    func(sqlmock.Sqlmock)
		wantErr   error
		expectErr string
		wantCode  string
		wantLeft  int
	}{
		{
			name:  "commits all writes",
			codes: []string{"ABCD1234"},
			mockFn: func(mock sqlmock.Sqlmock) {
				expectVoucherAndUser(mock, 500)
				mock.ExpectExec(`UPDATE users SET points = points - \?`).
					WithArgs(200, sqlmock.AnyArg(), 7, 200).
					WillReturnResult(sqlmock.NewResult(0, 1))
				expectRemaining(mock, 300)
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM user_vouchers WHERE code = \?`).
					WithArgs("ABCD1234").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO user_vouchers`).
					WithArgs(7, 3, "ABCD1234", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(11, 1))
				mock.ExpectExec(`INSERT INTO xp_history`).
					WithArgs(7, -200, "Redeemed Coffee", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			wantCode: "ABCD1234",
			wantLeft: 300,
		},
		{
			name:  "remaining points come from after the decrement",
			codes: []string{"ABCD1234"},
			mockFn: func(mock sqlmock.Sqlmock) {
				// A concurrent redemption spent 250 between the read and the update.
				expectVoucherAndUser(mock, 500)
				mock.ExpectExec(`UPDATE users SET points = points - \?`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				expectRemaining(mock, 50)
				mock.ExpectQuery(`FROM user_vouchers WHERE code = \?`).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO user_vouchers`).
					WillReturnResult(sqlmock.NewResult(13, 1))
				mock.ExpectExec(`INSERT INTO xp_history`).
					WillReturnResult(sqlmock.NewResult(3, 1))
				mock.ExpectCommit()
			},
			wantCode: "ABCD1234",
			wantLeft: 50,
		},
		{
			name:  "retries a taken code",
			codes: []string{"TAKEN000", "FRESH111"},
			mockFn: func(mock sqlmock.Sqlmock) {
				expectVoucherAndUser(mock, 200)
				mock.ExpectExec(`UPDATE users SET points = points - \?`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				expectRemaining(mock, 0)
				mock.ExpectQuery(`FROM user_vouchers WHERE code = \?`).
					WithArgs("TAKEN000").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
				mock.ExpectQuery(`FROM user_vouchers WHERE code = \?`).
					WithArgs("FRESH111").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO user_vouchers`).
					WithArgs(7, 3, "FRESH111", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(12, 1))
				mock.ExpectExec(`INSERT INTO xp_history`).
					WillReturnResult(sqlmock.NewResult(2, 1))
				mock.ExpectCommit()
			},
			wantCode: "FRESH111",
			wantLeft: 0,
		},
		{
			name: "guarded decrement loses the race",
			mockFn: func(mock sqlmock.Sqlmock) {
				expectVoucherAndUser(mock, 500)
				mock.ExpectExec(`UPDATE users SET points = points - \?`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: ErrInsufficientPoints,
		},
		{
			name:  "redemption insert fails",
			codes: []string{"ABCD1234"},
			mockFn: func(mock sqlmock.Sqlmock) {
				expectVoucherAndUser(mock, 500)
				mock.ExpectExec(`UPDATE users SET points = points - \?`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				expectRemaining(mock, 300)
				mock.ExpectQuery(`FROM user_vouchers WHERE code = \?`).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO user_vouchers`).
					WillReturnError(errors.New("database connection error"))
				mock.ExpectRollback()
			},
			expectErr: "database connection error",
		},
		{
			name:  "ledger insert fails",
			codes: []string{"ABCD1234"},
			mockFn: func(mock sqlmock.Sqlmock) {
				expectVoucherAndUser(mock, 500)
				mock.ExpectExec(`UPDATE users SET points = points - \?`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				expectRemaining(mock, 300)
				mock.ExpectQuery(`FROM user_vouchers WHERE code = \?`).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO user_vouchers`).
					WillReturnResult(sqlmock.NewResult(11, 1))
				mock.ExpectExec(`INSERT INTO xp_history`).
					WillReturnError(errors.New("disk I/O error"))
				mock.ExpectRollback()
			},
			expectErr: "disk I/O error",
		},
		{
			name: "insufficient balance never writes",
			mockFn: func(mock sqlmock.Sqlmock) {
				expectVoucherAndUser(mock, 50)
				mock.ExpectRollback()
			},
			wantErr: ErrInsufficientPoints,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs, mock := setupMockVoucherStore(t, tt.codes...)
			tt.mockFn(mock)

			got, err := vs.Redeem(context.Background(), 7, 3)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			case tt.expectErr != "":
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectErr)
				assert.Nil(t, got)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantCode, got.Code)
				assert.Equal(t, 200, got.PointsDeducted)
				assert.Equal(t, tt.wantLeft, got.RemainingPoints)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
