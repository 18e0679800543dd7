package reporting

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cargodesk/cargodesk/internal/shared"
)

type stubReportingRepo struct {
	calls int
}

func (s *stubReportingRepo) BookingCounts(ctx context.Context) (BookingCounts, error) {
	s.calls++
	return BookingCounts{Total: 12, Pending: 3, InTransit: 4, Delivered: 5}, nil
}

func (s *stubReportingRepo) ReceivableSummary(ctx context.Context) (ReceivableSummary, error) {
	return ReceivableSummary{
		TotalBilled:      decimal.NewFromInt(250000),
		TotalCollectible: decimal.NewFromInt(80000),
		TotalExpenses:    decimal.NewFromInt(150000),
		NetRevenue:       decimal.NewFromInt(100000),
		PaidCount:        7,
		OverdueCount:     2,
		AgingBuckets:     map[string]int64{"current": 3, "1-30": 2},
	}, nil
}

func (s *stubReportingRepo) PayableSummary(ctx context.Context) (PayableSummary, error) {
	return PayableSummary{TotalExpenses: decimal.NewFromInt(150000), UnpaidCount: 4, PaidCount: 6}, nil
}

func (s *stubReportingRepo) PaymentSummary(ctx context.Context) (PaymentSummary, error) {
	return PaymentSummary{
		CompletedAmount: decimal.NewFromInt(170000),
		StatusCounts:    map[string]int64{"completed": 7, "processing": 1},
	}, nil
}

func newReportingFixture(t *testing.T) (*Service, *stubReportingRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &stubReportingRepo{}
	cache := NewCache(client, 10*time.Minute)
	clock := shared.FixedClock{At: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(repo, cache, clock, slog.Default()), repo
}

func TestDashboardAssemblesAllSections(t *testing.T) {
	svc, _ := newReportingFixture(t)

	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(12), d.Bookings.Total)
	require.True(t, d.Receivables.TotalCollectible.Equal(decimal.NewFromInt(80000)))
	require.Equal(t, int64(2), d.Receivables.AgingBuckets["1-30"])
	require.Equal(t, int64(4), d.Payables.UnpaidCount)
	require.Equal(t, int64(7), d.Payments.StatusCounts["completed"])
	require.NotEmpty(t, d.DisplayTotal)
}

func TestDashboardServedFromCache(t *testing.T) {
	svc, repo := newReportingFixture(t)

	_, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	_, err = svc.Dashboard(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, repo.calls)
}

func TestInvalidateDashboardForcesReload(t *testing.T) {
	svc, repo := newReportingFixture(t)

	_, err := svc.Dashboard(context.Background())
	require.NoError(t, err)

	svc.InvalidateDashboard(context.Background())

	_, err = svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}

func TestDashboardWithoutRedisDegradesGracefully(t *testing.T) {
	repo := &stubReportingRepo{}
	svc := NewService(repo, NewCache(nil, time.Minute), shared.SystemClock{}, slog.Default())

	_, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	_, err = svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}
