package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agrihub/marketprice/internal/models"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

func newImporter(t *testing.T) (*Importer, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	_, err := mem.CreateMarket(ctx, "Kigali Central", "Kigali")
	require.NoError(t, err)
	_, err = mem.CreateCrop(ctx, "Rice", "Cereals")
	require.NoError(t, err)

	return New(mem, zerolog.Nop()), mem
}

func TestImportCSV(t *testing.T) {
	imp, mem := newImporter(t)
	ctx := context.Background()

	data := "market_id,crop_id,price,unit\n1,1,100,kg\n1,1,120.50,kg\n"
	n, err := imp.ImportCSV(ctx, strings.NewReader(data), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := mem.LatestPriceRecords(ctx, 1, 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 120.50, recs[0].Price)
	assert.Equal(t, 7, recs[0].SubmitterID)
}

func TestImportCSV_HeaderOptional(t *testing.T) {
	imp, mem := newImporter(t)
	ctx := context.Background()

	n, err := imp.ImportCSV(ctx, strings.NewReader("1,1,100,kg\n"), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := mem.LatestPriceRecords(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestImportCSV_Windows1252(t *testing.T) {
	imp, mem := newImporter(t)
	ctx := context.Background()

	// The no-break space in the unit label encodes to 0xA0 in
	// Windows-1252, which is invalid UTF-8 and forces the charmap path.
	encoded, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(),
		[]byte("market_id,crop_id,price,unit\n1,1,100,sac 50kg\n"))
	require.NoError(t, err)

	n, err := imp.ImportCSV(ctx, strings.NewReader(string(encoded)), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := mem.LatestPriceRecords(ctx, 1, 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sac 50kg", recs[0].Unit)
}

// failingStore simulates an infrastructure failure during the batch write.
type failingStore struct {
	store.Store
}

func (f *failingStore) AppendPriceRecords(ctx context.Context, recs []models.PriceRecord) ([]models.PriceRecord, error) {
	return nil, errors.New("connection reset")
}

func TestImportCSV_WriteFailureWritesNothing(t *testing.T) {
	_, mem := newImporter(t)
	imp := New(&failingStore{Store: mem}, zerolog.Nop())
	ctx := context.Background()

	n, err := imp.ImportCSV(ctx, strings.NewReader("1,1,100,kg\n1,1,120,kg\n"), 1)
	assert.Error(t, err)
	assert.Zero(t, n)

	recs, err := mem.ScanPriceRecords(ctx, 1, 1, models.TimeWindow{})
	require.NoError(t, err)
	assert.Empty(t, recs, "a failed import must not leave partial records behind")
}

func TestImportCSV_BadRowWritesNothing(t *testing.T) {
	imp, mem := newImporter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		data string
	}{
		{"non-positive price", "1,1,100,kg\n1,1,-5,kg\n"},
		{"unknown market", "1,1,100,kg\n999,1,80,kg\n"},
		{"unknown crop", "1,1,100,kg\n1,999,80,kg\n"},
		{"malformed price", "1,1,abc,kg\n"},
		{"wrong column count", "1,1,100\n"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := imp.ImportCSV(ctx, strings.NewReader(tt.data), 1)
			assert.Error(t, err)

			recs, err := mem.LatestPriceRecords(ctx, 1, 1, 10)
			require.NoError(t, err)
			assert.Empty(t, recs, "a rejected file must leave the store untouched")
		})
	}
}
