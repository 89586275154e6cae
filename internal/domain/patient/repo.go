package patient

import "context"

// Repository stores patient records. List orders by last then first name;
// limit <= 0 returns every record.
type Repository interface {
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	GetByID(ctx context.Context, id string) (*Patient, error)
	Upsert(ctx context.Context, p *Patient) error
}
