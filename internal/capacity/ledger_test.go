package capacity_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-booking/internal/capacity"
	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	_, err = bunDB.NewCreateTable().Model((*models.Tour)(nil)).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewCreateTable().Model((*models.CapacityAdjustment)(nil)).Exec(ctx)
	require.NoError(t, err)
	return bunDB
}

func insertTour(t *testing.T, db *bun.DB, id string, current, max int) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.NewInsert().Model(&models.Tour{
		ID:              id,
		Name:            "Ha Long Bay 2D1N",
		Price:           2000000,
		CapacityMax:     max,
		CapacityCurrent: current,
		Status:          models.TourActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Exec(context.Background())
	require.NoError(t, err)
}

func TestAdjust_IncrementAndSoldOut(t *testing.T) {
	db := setupTestDB(t)
	insertTour(t, db, "tour-1", 6, 10)
	ledger := capacity.NewLedger(db, nil)
	ctx := context.Background()

	c, err := ledger.Adjust(ctx, "tour-1", 2, "booking_confirmed", "TX1")
	require.NoError(t, err)
	assert.Equal(t, 8, c.Current)
	assert.False(t, c.SoldOut)
	assert.True(t, c.Applied)

	c, err = ledger.Adjust(ctx, "tour-1", 2, "booking_confirmed", "TX2")
	require.NoError(t, err)
	assert.Equal(t, 10, c.Current)
	assert.True(t, c.SoldOut)
	assert.Equal(t, models.TourSoldOut, c.Status)
}

func TestAdjust_DuplicateReferenceAppliedOnce(t *testing.T) {
	db := setupTestDB(t)
	insertTour(t, db, "tour-1", 0, 10)
	ledger := capacity.NewLedger(db, nil)
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, "tour-1", 2, "booking_confirmed", "TX1")
	require.NoError(t, err)

	c, err := ledger.Adjust(ctx, "tour-1", 2, "booking_confirmed", "TX1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Current)
	assert.False(t, c.Applied)

	count, err := db.NewSelect().Model((*models.CapacityAdjustment)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdjust_ReleaseReactivatesSoldOutTour(t *testing.T) {
	db := setupTestDB(t)
	insertTour(t, db, "tour-1", 8, 10)
	ledger := capacity.NewLedger(db, nil)
	ctx := context.Background()

	c, err := ledger.Adjust(ctx, "tour-1", 2, "booking_confirmed", "TX1")
	require.NoError(t, err)
	require.True(t, c.SoldOut)

	c, err = ledger.Adjust(ctx, "tour-1", -2, "booking_cancelled", "cancel:b-1")
	require.NoError(t, err)
	assert.Equal(t, 8, c.Current)
	assert.Equal(t, models.TourActive, c.Status)
}

func TestAdjust_InactiveTourKeepsStatus(t *testing.T) {
	db := setupTestDB(t)
	insertTour(t, db, "tour-1", 0, 2)
	_, err := db.NewUpdate().Model((*models.Tour)(nil)).
		Set("status = ?", models.TourInactive).
		Where("id = ?", "tour-1").
		Exec(context.Background())
	require.NoError(t, err)

	c, err := capacity.NewLedger(db, nil).Adjust(context.Background(), "tour-1", 2, "booking_confirmed", "")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Current)
	assert.Equal(t, models.TourInactive, c.Status)
}

func TestAdjust_UnknownTour(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db, nil)

	_, err := ledger.Adjust(context.Background(), "missing", 1, "booking_confirmed", "TX1")
	assert.ErrorIs(t, err, capacity.ErrTourNotFound)

	count, err := db.NewSelect().Model((*models.CapacityAdjustment)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "failed adjustment must roll back its reference")
}

func TestGet(t *testing.T) {
	db := setupTestDB(t)
	insertTour(t, db, "tour-1", 3, 10)

	c, err := capacity.NewLedger(db, nil).Get(context.Background(), "tour-1")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Current)
	assert.Equal(t, 10, c.Max)
}
