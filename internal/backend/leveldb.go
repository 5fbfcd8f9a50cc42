package backend

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// LevelDBName is the registry name of the LevelDB backend.
const LevelDBName = "leveldb"

func init() {
	Register(LevelDBName, Capabilities{Durable: true, Persistent: true, Compression: true},
		func(opts Options) (Backend, error) {
			return OpenLevelDB(opts)
		})
}

// LevelDB wraps a goleveldb database. In durable mode every Put is synced
// to disk before it returns.
type LevelDB struct {
	db     *leveldb.DB
	wo     *opt.WriteOptions
	path   string
	logger *zap.Logger
}

// OpenLevelDB opens or creates a LevelDB database at opts.Path.
func OpenLevelDB(opts Options) (*LevelDB, error) {
	compression := opt.NoCompression
	if opts.Compression {
		compression = opt.SnappyCompression
	}

	db, err := leveldb.OpenFile(opts.Path, &opt.Options{
		Compression: compression,
		NoSync:      !opts.Durable,
	})
	if err != nil {
		return nil, kerrors.NewBackendError(kerrors.CodeOpenFailed,
			fmt.Sprintf("failed to open leveldb at %s", opts.Path), err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LevelDB{
		db:     db,
		wo:     &opt.WriteOptions{Sync: opts.Durable},
		path:   opts.Path,
		logger: logger,
	}, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	if err := l.db.Put(key, value, l.wo); err != nil {
		return putError(err)
	}
	return nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, notFoundError(key)
		}
		return nil, getError(err)
	}
	return v, nil
}

func (l *LevelDB) Close() error {
	if err := l.db.Close(); err != nil {
		return kerrors.NewBackendError(kerrors.CodeCloseFailed, "failed to close leveldb", err)
	}
	l.logger.Debug("leveldb closed", zap.String("path", l.path))
	return nil
}
