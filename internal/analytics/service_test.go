package analytics

import (
	"context"
	"testing"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/internal/testutil"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	"github.com/bottlepoint/waterbot/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seed(t *testing.T, conn *gorm.DB, address string, balance, members int, collects ...int) {
	t.Helper()
	ctx := context.Background()
	h := &models.Household{Address: address, BottleBalance: balance}
	require.NoError(t, store.Insert(ctx, conn, h))
	for i := 0; i < members; i++ {
		require.NoError(t, store.Insert(ctx, conn, &models.User{HouseholdID: &h.ID}))
	}
	for _, n := range collects {
		require.NoError(t, store.Insert(ctx, conn, &models.Transaction{
			Kind:           enums.TransactionKindCollect,
			HouseholdID:    &h.ID,
			BottlesCharged: n,
		}))
	}
}

func newSeeded(t *testing.T) *Service {
	t.Helper()
	conn := testutil.NewDB(t)
	seed(t, conn, "1 Elm St", 0, 1, 3, 2)
	seed(t, conn, "2 Elm St", 1, 2, 4)
	seed(t, conn, "3 Elm St", 5, 2)
	seed(t, conn, "4 Elm St", 5, 0)
	return NewService(conn)
}

func TestHouseholdDistribution(t *testing.T) {
	svc := newSeeded(t)
	rows, err := svc.HouseholdDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SizeBucket{{Size: 0, Households: 1}, {Size: 1, Households: 1}, {Size: 2, Households: 2}}, rows)
}

func TestWaterConsumption(t *testing.T) {
	svc := newSeeded(t)
	rows, err := svc.WaterConsumption(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Size)
	assert.InDelta(t, 5.0, rows[0].AvgCollected, 0.001)
	assert.Equal(t, 2, rows[1].Size)
	assert.Equal(t, 2, rows[1].Households)
	assert.InDelta(t, 2.0, rows[1].AvgCollected, 0.001)
}

func TestRenderReports(t *testing.T) {
	svc := newSeeded(t)
	ctx := context.Background()

	text, err := svc.Render(ctx, ReportAverageBottles)
	require.NoError(t, err)
	assert.Equal(t, "Average Bottles Per Person\n\nAverage Bottles Per Person: 2.20", text)

	text, err = svc.Render(ctx, ReportHouseholdDistribution)
	require.NoError(t, err)
	assert.Contains(t, text, "1 person: 1 household")
	assert.Contains(t, text, "2 people: 2 households")

	text, err = svc.Render(ctx, ReportWaterConsumption)
	require.NoError(t, err)
	assert.Contains(t, text, "Household size 2: 2.00 bottles collected on average (2 households)")

	_, err = svc.Render(ctx, Report("nope"))
	require.Error(t, err)
}

func TestEmptyDatabase(t *testing.T) {
	svc := NewService(testutil.NewDB(t))
	text, err := svc.Render(context.Background(), ReportAverageBottles)
	require.NoError(t, err)
	assert.Contains(t, text, "0.00")

	text, err = svc.Render(context.Background(), ReportHouseholdDistribution)
	require.NoError(t, err)
	assert.Contains(t, text, "No households yet.")
}

func TestParseReport(t *testing.T) {
	r, ok := ParseReport("water_consumption")
	assert.True(t, ok)
	assert.Equal(t, ReportWaterConsumption, r)
	_, ok = ParseReport("charts")
	assert.False(t, ok)
}
