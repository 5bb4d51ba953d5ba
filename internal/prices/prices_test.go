package prices

import (
	"context"
	"testing"
	"time"

	"github.com/agrihub/marketprice/internal/models"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *store.Memory
	kigali *models.Market
	huye   *models.Market
	rice   *models.Crop
	beans  *models.Crop
	wheat  *models.Crop
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	kigali, err := mem.CreateMarket(ctx, "Kigali Central", "Kigali")
	require.NoError(t, err)
	huye, err := mem.CreateMarket(ctx, "Huye Market", "Southern")
	require.NoError(t, err)
	rice, err := mem.CreateCrop(ctx, "Rice", "Cereals")
	require.NoError(t, err)
	beans, err := mem.CreateCrop(ctx, "Beans", "Legumes")
	require.NoError(t, err)
	wheat, err := mem.CreateCrop(ctx, "Wheat", "Cereals")
	require.NoError(t, err)

	return &fixture{
		svc:    NewService(mem, zerolog.Nop()),
		store:  mem,
		kigali: kigali,
		huye:   huye,
		rice:   rice,
		beans:  beans,
		wheat:  wheat,
	}
}

func (f *fixture) append(t *testing.T, market *models.Market, crop *models.Crop, price float64, at time.Time) *models.PriceRecord {
	t.Helper()
	rec, err := f.store.AppendPriceRecord(context.Background(), &models.PriceRecord{
		MarketID:    market.ID,
		CropID:      crop.ID,
		SubmitterID: 1,
		Price:       price,
		Unit:        "kg",
		CreatedAt:   at,
	})
	require.NoError(t, err)
	return rec
}

func TestService_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, f.kigali, f.rice, 100, t0)
	f.append(t, f.kigali, f.rice, 120, t0.Add(time.Hour))

	data, err := f.svc.Resolve(ctx, f.kigali.ID, f.rice.ID)
	require.NoError(t, err)

	assert.Equal(t, "Kigali Central", data.MarketName)
	assert.Equal(t, "Rice", data.CropName)
	assert.Equal(t, "Cereals", data.Category)
	assert.Equal(t, 120.0, data.CurrentPrice)
	require.NotNil(t, data.PreviousPrice)
	assert.Equal(t, 100.0, *data.PreviousPrice)
	assert.Equal(t, 20.0, data.PriceChange)
	assert.Equal(t, 20.0, data.PriceChangePercent)
	assert.Equal(t, "kg", data.Unit)
	assert.True(t, data.UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestService_Resolve_SingleRecord(t *testing.T) {
	f := newFixture(t)

	f.append(t, f.kigali, f.rice, 100, t0)

	data, err := f.svc.Resolve(context.Background(), f.kigali.ID, f.rice.ID)
	require.NoError(t, err)

	assert.Equal(t, 100.0, data.CurrentPrice)
	assert.Nil(t, data.PreviousPrice)
	assert.Equal(t, 0.0, data.PriceChange)
	assert.Equal(t, 0.0, data.PriceChangePercent)
}

func TestService_Resolve_TimestampTieBrokenByID(t *testing.T) {
	f := newFixture(t)

	f.append(t, f.kigali, f.rice, 100, t0)
	f.append(t, f.kigali, f.rice, 150, t0) // same timestamp, later insertion

	data, err := f.svc.Resolve(context.Background(), f.kigali.ID, f.rice.ID)
	require.NoError(t, err)

	assert.Equal(t, 150.0, data.CurrentPrice)
	require.NotNil(t, data.PreviousPrice)
	assert.Equal(t, 100.0, *data.PreviousPrice)
}

func TestService_Resolve_PercentRounding(t *testing.T) {
	f := newFixture(t)

	f.append(t, f.kigali, f.rice, 3, t0)
	f.append(t, f.kigali, f.rice, 7, t0.Add(time.Hour))

	data, err := f.svc.Resolve(context.Background(), f.kigali.ID, f.rice.ID)
	require.NoError(t, err)

	// 4/3*100 = 133.333..., displayed at two decimals
	assert.Equal(t, 133.33, data.PriceChangePercent)
}

func TestService_Resolve_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		marketID int
		cropID   int
		wantErr  error
	}{
		{"unknown market", 999, f.rice.ID, store.ErrMarketNotFound},
		{"unknown crop", f.kigali.ID, 999, store.ErrCropNotFound},
		{"no records for valid pair", f.kigali.ID, f.rice.ID, ErrNoData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Resolve(ctx, tt.marketID, tt.cropID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Snapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two active pairs; wheat has no records and must be omitted.
	f.append(t, f.kigali, f.rice, 100, t0)
	f.append(t, f.kigali, f.rice, 120, t0.Add(time.Hour))
	f.append(t, f.huye, f.beans, 80, t0.Add(2*time.Hour))

	snapshot, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	// Ordered by market name, then crop name.
	assert.Equal(t, "Huye Market", snapshot[0].MarketName)
	assert.Equal(t, "Beans", snapshot[0].CropName)
	assert.Equal(t, "Kigali Central", snapshot[1].MarketName)
	assert.Equal(t, "Rice", snapshot[1].CropName)

	assert.Equal(t, 80.0, snapshot[0].CurrentPrice)
	assert.Nil(t, snapshot[0].PreviousPrice)
	assert.Equal(t, 120.0, snapshot[1].CurrentPrice)
}

func TestService_Snapshot_Empty(t *testing.T) {
	f := newFixture(t)

	snapshot, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestService_Snapshot_Deterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, f.huye, f.wheat, 55, t0)
	f.append(t, f.kigali, f.beans, 90, t0.Add(time.Minute))
	f.append(t, f.kigali, f.rice, 100, t0.Add(2*time.Minute))

	first, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	second, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestService_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, f.kigali, f.rice, 100, t0)
	f.append(t, f.kigali, f.rice, 120, t0.Add(time.Hour))

	points, err := f.svc.History(ctx, f.rice.ID, f.kigali.ID, models.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, 100.0, points[0].Price)
	assert.True(t, points[0].CreatedAt.Equal(t0))
	assert.Equal(t, 120.0, points[1].Price)
	assert.True(t, points[1].CreatedAt.Equal(t0.Add(time.Hour)))
}

func TestService_History_SortsUnorderedRecords(t *testing.T) {
	f := newFixture(t)

	// Appended out of timestamp order; history must still come back ascending.
	f.append(t, f.kigali, f.rice, 120, t0.Add(2*time.Hour))
	f.append(t, f.kigali, f.rice, 100, t0)
	f.append(t, f.kigali, f.rice, 110, t0.Add(time.Hour))

	points, err := f.svc.History(context.Background(), f.rice.ID, f.kigali.ID, models.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, points, 3)

	for i := 1; i < len(points); i++ {
		assert.False(t, points[i].CreatedAt.Before(points[i-1].CreatedAt),
			"history not ascending at index %d", i)
	}
	assert.Equal(t, []float64{100, 110, 120}, []float64{points[0].Price, points[1].Price, points[2].Price})
}

func TestService_History_Window(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 4; i++ {
		f.append(t, f.kigali, f.rice, 100+float64(i), t0.Add(time.Duration(i)*time.Hour))
	}

	// Half-open [from, to): includes t0+1h, excludes t0+3h.
	window := models.TimeWindow{From: t0.Add(time.Hour), To: t0.Add(3 * time.Hour)}
	points, err := f.svc.History(context.Background(), f.rice.ID, f.kigali.ID, window)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 101.0, points[0].Price)
	assert.Equal(t, 102.0, points[1].Price)
}

func TestService_History_EmptyIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Valid pair, zero records: empty series, no error.
	points, err := f.svc.History(ctx, f.rice.ID, f.kigali.ID, models.TimeWindow{})
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)

	// Unknown references stay distinguishable from the empty state.
	_, err = f.svc.History(ctx, f.rice.ID, 999, models.TimeWindow{})
	assert.ErrorIs(t, err, store.ErrMarketNotFound)
	_, err = f.svc.History(ctx, 999, f.kigali.ID, models.TimeWindow{})
	assert.ErrorIs(t, err, store.ErrCropNotFound)
}

// brokenStore simulates an ingestion bug: records exist for a pair whose
// market was never created, and a stored previous price of zero.
type brokenStore struct {
	Store
	records []models.PriceRecord
}

func (b *brokenStore) ActivePairs(ctx context.Context) ([]models.PairKey, error) {
	return []models.PairKey{{MarketID: 999, CropID: 1}}, nil
}

func (b *brokenStore) LatestPriceRecords(ctx context.Context, marketID, cropID, limit int) ([]models.PriceRecord, error) {
	recs := b.records
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func TestService_Snapshot_OrphanedPairFailsPass(t *testing.T) {
	f := newFixture(t)

	svc := NewService(&brokenStore{Store: f.store}, zerolog.Nop())
	_, err := svc.Snapshot(context.Background())

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 999, ie.MarketID)
	assert.ErrorIs(t, err, store.ErrMarketNotFound)
}

func TestService_Resolve_ZeroPreviousPrice(t *testing.T) {
	f := newFixture(t)

	// The store rejects non-positive prices on append, so a zero previous
	// price can only come from data written outside this service. The
	// guard must still hold.
	bs := &brokenStore{
		Store: f.store,
		records: []models.PriceRecord{
			{ID: 2, MarketID: f.kigali.ID, CropID: f.rice.ID, Price: 50, Unit: "kg", CreatedAt: t0.Add(time.Hour)},
			{ID: 1, MarketID: f.kigali.ID, CropID: f.rice.ID, Price: 0, Unit: "kg", CreatedAt: t0},
		},
	}
	svc := NewService(bs, zerolog.Nop())

	data, err := svc.Resolve(context.Background(), f.kigali.ID, f.rice.ID)
	require.NoError(t, err)

	require.NotNil(t, data.PreviousPrice)
	assert.Equal(t, 0.0, *data.PreviousPrice)
	assert.Equal(t, 50.0, data.PriceChange)
	assert.Equal(t, 0.0, data.PriceChangePercent, "division by zero must be guarded")
}
