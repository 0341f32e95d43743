package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// TicketFilter narrows ticket listings. Zero-value fields mean "no filter"
// for that dimension; all set fields must match.
type TicketFilter struct {
	UserID     *string
	AssigneeID *string
	Statuses   []domain.TicketStatus
	Categories []domain.TicketCategory
	Priorities []domain.TicketPriority
	SearchTerm string
	Limit      int
	Offset     int
}

// Matches reports whether ticket satisfies every dimension of the filter.
// The search term is matched case-insensitively against title and description only.
func (f TicketFilter) Matches(ticket *domain.Ticket) bool {
	if f.UserID != nil && ticket.UserID != *f.UserID {
		return false
	}
	if f.AssigneeID != nil && (ticket.AssignedTo == nil || *ticket.AssignedTo != *f.AssigneeID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsValue(f.Statuses, ticket.Status) {
		return false
	}
	if len(f.Categories) > 0 && !containsValue(f.Categories, ticket.Category) {
		return false
	}
	if len(f.Priorities) > 0 && !containsValue(f.Priorities, ticket.Priority) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.SearchTerm)); term != "" {
		if !strings.Contains(strings.ToLower(ticket.Title), term) &&
			!strings.Contains(strings.ToLower(ticket.Description), term) {
			return false
		}
	}
	return true
}

func containsValue[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes ticket if the stored row still has ticket.Version and
	// increments it. A newer stored row yields ErrStaleState.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, user_id, order_id, product_id, assigned_to,
               title, description, category, priority, status, created_at, updated_at, resolved_at, closed_at, version`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, external_key, user_id, order_id, product_id, assigned_to, title, description,
            category, priority, status, created_at, updated_at, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.ExternalKey,
		ticket.UserID,
		ticket.OrderID,
		ticket.ProductID,
		ticket.AssignedTo,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.Version,
	)
	return mapWriteErr(err)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET assigned_to=$1, title=$2, description=$3, category=$4, priority=$5,
            status=$6, updated_at=$7, resolved_at=$8, closed_at=$9, version=version+1
        WHERE id=$10 AND version=$11`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.AssignedTo,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.UpdatedAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.ID,
		ticket.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return missingOrStale(ctx, r.pool, ticket.ID)
	}
	ticket.Version++
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// missingOrStale explains a conditional ticket write that matched no row.
func missingOrStale(ctx context.Context, db rowQuerier, ticketID string) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticketID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleState
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query, args := buildTicketListQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func buildTicketListQuery(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, inClause("status", filter.Statuses, &args))
	}
	if len(filter.Categories) > 0 {
		clauses = append(clauses, inClause("category", filter.Categories, &args))
	}
	if len(filter.Priorities) > 0 {
		clauses = append(clauses, inClause("priority", filter.Priorities, &args))
	}
	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)
	return query, args
}

func inClause[T ~string](column string, values []T, args *[]any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, string(v))
		placeholders[i] = fmt.Sprintf("$%d", len(*args))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.UserID,
		&ticket.OrderID,
		&ticket.ProductID,
		&ticket.AssignedTo,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.Version,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
