package storage

import (
	"context"
	"errors"
	"strings"

	logx "tickwork/pkg/logx"

	"github.com/spf13/afero"
)

// Store is the run history API used by the daemon.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to n records, newest first.
	RecentRuns(ctx context.Context, n int) ([]RunRecord, error)
	// Prune drops all but the newest keep records and returns how many it removed.
	Prune(ctx context.Context, keep int) (int, error)
	Close() error
}

// Open initializes the configured store on the OS filesystem.
func Open(cfg Config, log logx.Logger) (Store, error) {
	return OpenFs(afero.NewOsFs(), cfg, log)
}

// OpenFs is Open with the file driver rooted on fs. The sqlite driver always
// uses the OS filesystem.
func OpenFs(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return noneStore{}, nil
	case "file":
		return openFile(fs, cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

type noneStore struct{}

func (noneStore) AppendRun(context.Context, RunRecord) error           { return nil }
func (noneStore) RecentRuns(context.Context, int) ([]RunRecord, error) { return nil, ErrDisabled }
func (noneStore) Prune(context.Context, int) (int, error)              { return 0, nil }
func (noneStore) Close() error                                         { return nil }
