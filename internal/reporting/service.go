package reporting

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cargodesk/cargodesk/internal/shared"
)

const dashboardCacheKey = "reporting:dashboard"

// RepositoryPort defines the aggregate queries the dashboard needs.
type RepositoryPort interface {
	BookingCounts(ctx context.Context) (BookingCounts, error)
	ReceivableSummary(ctx context.Context) (ReceivableSummary, error)
	PayableSummary(ctx context.Context) (PayableSummary, error)
	PaymentSummary(ctx context.Context) (PaymentSummary, error)
}

// Service assembles the dashboard.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	clock  shared.Clock
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache *Cache, clock shared.Clock, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, clock: clock, logger: logger}
}

// Dashboard returns the overview, served from cache when fresh enough.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	err := s.cache.FetchJSON(ctx, dashboardCacheKey, &d, func(ctx context.Context) (any, error) {
		return s.loadDashboard(ctx)
	})
	return d, err
}

// InvalidateDashboard drops the cached overview after a financial mutation.
func (s *Service) InvalidateDashboard(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, dashboardCacheKey); err != nil {
		s.logger.Warn("dashboard cache invalidate", slog.Any("error", err))
	}
}

func (s *Service) loadDashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	d.GeneratedAt = s.clock.Now()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.repo.BookingCounts(ctx)
		if err != nil {
			return err
		}
		d.Bookings = counts
		return nil
	})

	g.Go(func() error {
		summary, err := s.repo.ReceivableSummary(ctx)
		if err != nil {
			return err
		}
		d.Receivables = summary
		return nil
	})

	g.Go(func() error {
		summary, err := s.repo.PayableSummary(ctx)
		if err != nil {
			return err
		}
		d.Payables = summary
		return nil
	})

	g.Go(func() error {
		summary, err := s.repo.PaymentSummary(ctx)
		if err != nil {
			return err
		}
		d.Payments = summary
		return nil
	})

	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d.DisplayTotal = formatPHP(d.Receivables.TotalBilled.InexactFloat64())
	return d, nil
}

var (
	printer = message.NewPrinter(language.English)
	peso    = currency.MustParseISO("PHP")
)

// formatPHP renders an amount with the peso currency symbol for display.
func formatPHP(amount float64) string {
	return printer.Sprintf("%v", currency.NarrowSymbol(peso.Amount(amount)))
}
