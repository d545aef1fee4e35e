package store

import (
	"context"
	"errors"

	"github.com/yourorg/cavelog/pkg/types"
)

var (
	// ErrStorageFault wraps every I/O failure of the underlying database.
	ErrStorageFault = errors.New("storage fault")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("exchange not found")
)

type Store interface {
	Insert(ctx context.Context, e *types.Exchange) (int64, error)
	UpdateByKey(ctx context.Context, url, method string, statusCode int, responseBody *string, endTime int64) (bool, error)
	ListAll(ctx context.Context) ([]types.Exchange, error)
	Get(ctx context.Context, id int64) (*types.Exchange, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) error

	// Subscribe registers fn to run after every committed mutation.
	Subscribe(fn func())

	Close() error
}
