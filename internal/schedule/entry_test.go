package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronFields(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    CronFields
		wantErr bool
	}{
		{
			name: "daily at seven",
			expr: "0 7 * * *",
			want: CronFields{Minute: "0", Hour: "7", DayOfMonth: "*", Month: "*", DayOfWeek: "*"},
		},
		{
			name: "extra whitespace",
			expr: "  30   6 1  *  mon-fri ",
			want: CronFields{Minute: "30", Hour: "6", DayOfMonth: "1", Month: "*", DayOfWeek: "mon-fri"},
		},
		{name: "garbage", expr: "bad", wantErr: true},
		{name: "empty", expr: "", wantErr: true},
		{name: "six fields", expr: "0 0 7 * * *", wantErr: true},
		{name: "five bad fields", expr: "a b c d e", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCronFields(tt.expr)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidCron))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSentinel(t *testing.T) {
	assert.Equal(t, "0 0 31 2 *", Sentinel.String())
	assert.True(t, Sentinel.IsSentinel())

	fields, err := ParseCronFields(Sentinel.String())
	require.NoError(t, err)
	assert.True(t, fields.IsSentinel())
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "export_email_job_42", EntryName(42))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	entry := &Entry{Name: EntryName(2), Task: DispatchTask, JobID: 2, Queue: "fast_queue", Cron: Sentinel}
	require.NoError(t, store.Upsert(ctx, entry))
	require.NoError(t, store.Upsert(ctx, &Entry{Name: EntryName(1), JobID: 1}))

	got, err := store.Get(ctx, EntryName(2))
	require.NoError(t, err)
	assert.True(t, got.Same(*entry))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryName(1), entries[0].Name)
}

func TestPostgresStoreUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC)

	entry := &Entry{
		Name:        EntryName(5),
		Task:        DispatchTask,
		JobID:       5,
		Queue:       "heavy_queue",
		Cron:        CronFields{Minute: "0", Hour: "7", DayOfMonth: "*", Month: "*", DayOfWeek: "*"},
		Enabled:     true,
		Description: "daily sales",
	}

	mock.ExpectQuery(`INSERT INTO schedule_entries(.|\n)+ON CONFLICT \(name\)`).
		WithArgs("export_email_job_5", DispatchTask, int64(5), "heavy_queue", "0", "7", "*", "*", "*", true, "daily sales").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	require.NoError(t, store.Upsert(context.Background(), entry))
	assert.Equal(t, now, entry.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	cols := []string{"name", "task", "job_id", "queue", "minute", "hour", "day_of_month", "month", "day_of_week", "enabled", "description", "updated_at"}
	now := time.Now()

	mock.ExpectQuery(`SELECT(.|\n)+FROM schedule_entries(.|\n)+WHERE name = \$1`).
		WithArgs("export_email_job_3").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("export_email_job_3", DispatchTask, int64(3), "fast_queue", "0", "0", "31", "2", "*", false, "", now))

	entry, err := store.Get(context.Background(), "export_email_job_3")
	require.NoError(t, err)
	assert.True(t, entry.Cron.IsSentinel())
	assert.False(t, entry.Enabled)

	mock.ExpectQuery(`SELECT(.|\n)+FROM schedule_entries`).
		WithArgs("export_email_job_4").
		WillReturnRows(sqlmock.NewRows(cols))

	_, err = store.Get(context.Background(), "export_email_job_4")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
