// Package backend abstracts the storage engines under test behind a
// minimal put/get interface.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// Backend is a key-value store the benchmark drives.
// Implementations return KvlatErrors of category BACKEND; a missing key on
// Get is reported with code KEY_NOT_FOUND.
type Backend interface {
	// Put stores value under key. The backend must not retain key or value
	// beyond the call unless it copies them.
	Put(key, value []byte) error

	// Get returns the value stored under key. Callers must treat the
	// returned slice as read-only.
	Get(key []byte) ([]byte, error)

	// Close releases every resource held by the backend.
	Close() error
}

// Capabilities describes what a backend variant can offer. It is known at
// registration time so unsupported requests fail before a run starts.
type Capabilities struct {
	// Durable backends can sync each write to stable storage before Put
	// returns.
	Durable bool

	// Persistent backends keep data across Close and reopen at the same Path.
	Persistent bool

	// Compression reports whether Options.Compression has any effect.
	Compression bool
}

// Options configures a backend at open time.
type Options struct {
	// Path is the data directory for persistent backends.
	Path string

	// Durable requests a sync to stable storage on every Put.
	Durable bool

	// Compression enables snappy compression where supported.
	Compression bool

	// Logger receives lifecycle messages. Nil means no logging.
	Logger *zap.Logger
}

// Factory opens a backend variant.
type Factory func(opts Options) (Backend, error)

type registration struct {
	caps    Capabilities
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register makes a backend variant available under name. It panics if the
// name is already taken.
func Register(name string, caps Capabilities, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("backend: Register called twice for %q", name))
	}
	registry[name] = registration{caps: caps, factory: factory}
}

// Names returns the registered backend names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the capabilities of a registered backend.
func Describe(name string) (Capabilities, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[name]
	return reg.caps, ok
}

// Open validates opts against the capabilities of the named backend and
// opens it. Durability requested from a backend that cannot provide it is
// rejected here, never per call.
func Open(name string, opts Options) (Backend, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, kerrors.NewBackendError(kerrors.CodeUnknownBackend,
			fmt.Sprintf("unknown backend %q (available: %v)", name, Names()), nil)
	}
	if opts.Durable && !reg.caps.Durable {
		return nil, kerrors.NewBackendError(kerrors.CodeDurabilityUnsupported,
			fmt.Sprintf("backend %q cannot sync writes to stable storage", name), nil)
	}
	if reg.caps.Persistent && opts.Path == "" {
		return nil, kerrors.NewConfigError("backend %q requires a data path", name)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	b, err := reg.factory(opts)
	if err != nil {
		if kerrors.GetCategory(err) != "" {
			return nil, err
		}
		return nil, kerrors.NewBackendError(kerrors.CodeOpenFailed, fmt.Sprintf("failed to open %s backend", name), err)
	}

	opts.Logger.Debug("backend opened",
		zap.String("backend", name),
		zap.String("path", opts.Path),
		zap.Bool("durable", opts.Durable),
		zap.Bool("compression", opts.Compression))
	return b, nil
}

func putError(cause error) error {
	return kerrors.NewBackendError(kerrors.CodePutFailed, "put failed", cause)
}

func getError(cause error) error {
	return kerrors.NewBackendError(kerrors.CodeGetFailed, "get failed", cause)
}

func closedError(op string) error {
	return kerrors.NewBackendError(kerrors.CodeBackendClosed, op+" on closed backend", nil)
}

func notFoundError(key []byte) error {
	return kerrors.NewBackendError(kerrors.CodeKeyNotFound, fmt.Sprintf("key %x not found", key), nil)
}
