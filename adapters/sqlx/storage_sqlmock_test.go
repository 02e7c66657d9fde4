package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "rankkit/adapters/sqlx"
	"rankkit/core"
)

func newMockStore(t *testing.T, driver storage.Driver) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, string(driver)), driver)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

var (
	allTime      = core.Partition{Period: core.PeriodAllTime}
	recordCols   = []string{"period", "category", "user_id", "position", "points_total", "level", "data", "last_updated"}
	profileCols  = []string{"user_id", "points", "experience", "level", "next_level", "completed", "updated_at"}
	completeCols = []string{"user_id", "activity_id", "id", "score", "time_spent_minutes", "points_awarded", "category", "language", "completed_at"}
)

func TestSQLMock_InsertCompletion_Inserted(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	rec := core.CompletionRecord{ID: "c1", UserID: "u1", ActivityID: "a1", Score: 90, PointsAwarded: 45, CompletedAt: time.Now()}
	mock.ExpectExec(`INSERT INTO rank_completions .* ON CONFLICT DO NOTHING`).
		WithArgs(rec.UserID, rec.ActivityID, "c1", 90, int64(0), int64(45), "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stored, inserted, err := store.InsertCompletion(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, "c1", stored.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_InsertCompletion_Conflict(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectExec(`INSERT IGNORE INTO rank_completions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM rank_completions WHERE user_id = \? AND activity_id = \?`).
		WithArgs(core.UserID("u1"), core.ActivityID("a1")).
		WillReturnRows(sqlmock.NewRows(completeCols).AddRow("u1", "a1", "first", 100, 10, 50, "", "go", at))

	stored, inserted, err := store.InsertCompletion(context.Background(), core.CompletionRecord{ID: "second", UserID: "u1", ActivityID: "a1"})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, "first", stored.ID)
	require.Equal(t, int64(50), stored.PointsAwarded)
	require.Equal(t, at, stored.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateProfile(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rank_profiles .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM rank_profiles WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(core.UserID("u1")).
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow("u1", 80, 80, 1, 100, `["a0"]`, time.Now()))
	mock.ExpectExec(`UPDATE rank_profiles SET`).
		WithArgs(int64(130), int64(130), int64(2), int64(200), `["a0","a1"]`, sqlmock.AnyArg(), core.UserID("u1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := store.UpdateProfile(context.Background(), "u1", func(p *core.UserProfile) error {
		_, _, err := core.ApplyToProfile(p, core.CompletionRecord{ActivityID: "a1", PointsAwarded: 50}, core.DefaultCurve())
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), p.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateRecord_PreservesPosition(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rank_records`).
		WithArgs(core.PeriodAllTime, "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO rank_records .* ON CONFLICT DO NOTHING`).
		WithArgs(core.PeriodAllTime, "", core.UserID("u1"), 4, int64(0), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM rank_records WHERE .* FOR UPDATE`).
		WithArgs(core.PeriodAllTime, "", core.UserID("u1")).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("all-time", "", "u1", 2, 40, 1, `{}`, time.Now()))
	mock.ExpectExec(`UPDATE rank_records SET points_total = \$1, level = \$2, data = \$3, last_updated = \$4 WHERE`).
		WithArgs(int64(55), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), core.PeriodAllTime, "", core.UserID("u1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := store.UpdateRecord(context.Background(), core.RecordKey{UserID: "u1", Partition: allTime}, func(r *core.RankingRecord) error {
		r.PointsTotal += 15
		r.Position = 1
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(55), rec.PointsTotal)
	require.Equal(t, 2, rec.Position)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateRecord_CallbackErrorRollsBack(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rank_records`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO rank_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("all-time", "", "u1", 1, 0, 1, `{}`, time.Now()))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := store.UpdateRecord(context.Background(), core.RecordKey{UserID: "u1", Partition: allTime}, func(*core.RankingRecord) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetRecord_NotRanked(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT .* FROM rank_records WHERE period = \$1 AND category = \$2 AND user_id = \$3`).
		WillReturnError(sql.ErrNoRows)
	_, err := store.GetRecord(context.Background(), core.RecordKey{UserID: "ghost", Partition: allTime})
	require.ErrorIs(t, err, core.ErrNotRanked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RangeByPosition(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(`position BETWEEN \$3 AND \$4 ORDER BY position, user_id`).
		WithArgs(core.PeriodWeekly, "math", 1, 6).
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("weekly", "math", "amy", 1, 90, 1, `{"achievements":[{"name":"first-activity"}]}`, now).
			AddRow("weekly", "math", "bob", 2, 50, 1, `{}`, now))

	recs, err := store.RangeByPosition(context.Background(), core.Partition{Period: core.PeriodWeekly, Category: "math"}, 1, 6)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, core.UserID("amy"), recs[0].UserID)
	assert.Equal(t, "first-activity", recs[0].Achievements[0].Name)
	assert.Equal(t, 2, recs[1].Position)
	assert.NotNil(t, recs[1].History)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetPositions(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`UPDATE rank_records SET position = \$1 WHERE`)
	prep.ExpectExec().WithArgs(1, core.PeriodAllTime, "", core.UserID("bob")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SetPositions(context.Background(), allTime, map[core.UserID]int{"bob": 1}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CountAndPartitions(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rank_records`).
		WithArgs(core.PeriodAllTime, "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT DISTINCT period, category FROM rank_records`).
		WillReturnRows(sqlmock.NewRows([]string{"period", "category"}).AddRow("all-time", "").AddRow("weekly", "math"))

	n, err := store.CountPartition(context.Background(), allTime)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	parts, err := store.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.Partition{allTime, {Period: core.PeriodWeekly, Category: "math"}}, parts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DriverFailureIsStorageUnavailable(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`FROM rank_profiles`).WillReturnError(errors.New("connection reset"))
	_, err := store.GetProfile(context.Background(), "u1")
	require.ErrorIs(t, err, core.ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}
