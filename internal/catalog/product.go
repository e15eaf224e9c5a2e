package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProductNotFound = errors.New("product not found")

// Product is a catalog entry; its JSON form is the product snapshot carried
// by an order request.
type Product struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       orders.Price `json:"price"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type ProductStore interface {
	CreateProduct(ctx context.Context, name, description string, price orders.Price) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// ProductsByID returns the products in the order of ids, repeating
	// duplicates. Any unknown id fails the whole lookup.
	ProductsByID(ctx context.Context, ids []string) ([]Product, error)
}

type ProductRepo struct{ DB *pgxpool.Pool }

func (r *ProductRepo) CreateProduct(ctx context.Context, name, description string, price orders.Price) (Product, error) {
	p := Product{ID: uuid.NewString(), Name: name, Description: description, Price: price}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, description, price)
		VALUES ($1, $2, $3, $4::numeric)
		RETURNING created_at
	`, p.ID, p.Name, p.Description, price.String()).Scan(&p.CreatedAt)
	return p, err
}

const selectProduct = `SELECT id::text, name, description, price::text, created_at FROM products`

func (r *ProductRepo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, selectProduct+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *ProductRepo) ProductsByID(ctx context.Context, ids []string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, selectProduct+` WHERE id::text = ANY($1::text[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found, err := collect(rows)
	if err != nil {
		return nil, err
	}
	return pick(found, ids)
}

func collect(rows pgx.Rows) ([]Product, error) {
	out := []Product{}
	for rows.Next() {
		var (
			p     Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &price, &p.CreatedAt); err != nil {
			return nil, err
		}
		pr, err := orders.NewPrice(price)
		if err != nil {
			return nil, err
		}
		p.Price = pr
		out = append(out, p)
	}
	return out, rows.Err()
}

// pick orders found by ids.
func pick(found []Product, ids []string) ([]Product, error) {
	byID := make(map[string]Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]Product, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		out = append(out, p)
	}
	return out, nil
}
