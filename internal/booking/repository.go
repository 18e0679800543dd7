package booking

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for bookings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a booking in pending status.
func (r *Repository) Create(ctx context.Context, input CreateBookingInput, number string) (Booking, error) {
	query := `
		INSERT INTO bookings (
			number, user_id, origin_port_id, destination_port_id,
			terms_days, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', NOW(), NOW())
		RETURNING id, created_at, updated_at`

	var b Booking
	err := r.pool.QueryRow(ctx, query,
		number,
		input.UserID,
		input.OriginPortID,
		input.DestinationPortID,
		input.TermsDays,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Booking{}, ErrDuplicateNumber
		}
		return Booking{}, err
	}

	b.Number = number
	b.UserID = input.UserID
	b.OriginPortID = input.OriginPortID
	b.DestinationPortID = input.DestinationPortID
	b.TermsDays = input.TermsDays
	b.Status = StatusPending
	return b, nil
}

// Get retrieves a booking by id, excluding soft-deleted rows.
func (r *Repository) Get(ctx context.Context, id int64) (Booking, error) {
	query := `
		SELECT id, number, user_id, origin_port_id, destination_port_id,
			terms_days, status, delivery_date, deleted_at, created_at, updated_at
		FROM bookings
		WHERE id = $1 AND deleted_at IS NULL`

	var b Booking
	var deliveryDate, deletedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.Number, &b.UserID, &b.OriginPortID, &b.DestinationPortID,
		&b.TermsDays, &b.Status, &deliveryDate, &deletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, err
	}
	if deliveryDate.Valid {
		b.DeliveryDate = &deliveryDate.Time
	}
	if deletedAt.Valid {
		b.DeletedAt = &deletedAt.Time
	}
	return b, nil
}

// UpdateStatus persists a status transition.
func (r *Repository) UpdateStatus(ctx context.Context, input UpdateStatusInput) (Booking, error) {
	query := `
		UPDATE bookings
		SET status = $2, delivery_date = COALESCE($3, delivery_date), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	var deliveryDate pgtype.Timestamptz
	if input.DeliveryDate != nil {
		deliveryDate = pgtype.Timestamptz{Time: *input.DeliveryDate, Valid: true}
	}

	result, err := r.pool.Exec(ctx, query, input.BookingID, string(input.Status), deliveryDate)
	if err != nil {
		return Booking{}, err
	}
	if result.RowsAffected() == 0 {
		return Booking{}, ErrNotFound
	}
	return r.Get(ctx, input.BookingID)
}

// SoftDelete flags a booking as deleted without removing the row.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE bookings SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
