package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
	"github.com/italolelis/downloadd/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) Insert(ctx context.Context, uri string, dest record.Destination) (string, error) {
	var id string

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "insert_download", func(ctx context.Context) error {
		id, err = r.repo.Insert(ctx, uri, dest)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return id, nil
}

func (r *InstrumentedDownloadRepository) Get(ctx context.Context, id string) (*record.Download, error) {
	var result *record.Download

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		result, err = r.repo.Get(ctx, id)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) GetAll(ctx context.Context) ([]*record.Download, error) {
	var result []*record.Download

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		result, err = r.repo.GetAll(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) GetActionable(ctx context.Context, limit int) ([]*record.Download, error) {
	var result []*record.Download

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_actionable_downloads", func(ctx context.Context) error {
		result, err = r.repo.GetActionable(ctx, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) Update(ctx context.Context, id string, u storage.Update) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_download", func(ctx context.Context) error {
		return r.repo.Update(ctx, id, u)
	})
}

func (r *InstrumentedDownloadRepository) Delete(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_download", func(ctx context.Context) error {
		return r.repo.Delete(ctx, id)
	})
}
