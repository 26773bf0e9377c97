package cache

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/koustreak/tessera/internal/logger"
	"github.com/koustreak/tessera/internal/serializer"
)

// Binaries used by the session layer.
const (
	BinaryStatementMetadata = "statement-metadata"
	BinaryTableExists       = "table-exists"
	BinaryTableDetails      = "table-details"
	BinaryEngine            = "engine"
)

// FactoryConfig configures a Factory. Zero values mean: binary serializer,
// no persistent backend, no logging.
type FactoryConfig struct {
	Serializer serializer.Serializer
	Backend    Backend
	Logger     *logger.Logger
}

// Factory creates and memoizes one Store per binary for a single logical
// target. It belongs to one Session.
type Factory struct {
	prefix  string
	ser     serializer.Serializer
	backend Backend
	log     *logger.Logger
	stores  map[string]*Store
}

// NewFactory returns a factory namespacing every binary under prefix.
func NewFactory(prefix string, cfg FactoryConfig) *Factory {
	if cfg.Serializer == nil {
		cfg.Serializer = serializer.Binary
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Factory{
		prefix:  prefix,
		ser:     cfg.Serializer,
		backend: cfg.Backend,
		log:     cfg.Logger,
		stores:  make(map[string]*Store),
	}
}

// Prefix returns the namespace prefix.
func (f *Factory) Prefix() string {
	return f.prefix
}

// Get returns the memoized Store for binary, creating it on first use.
func (f *Factory) Get(binary string) *Store {
	if s, ok := f.stores[binary]; ok {
		return s
	}
	name := f.prefix + ":" + binary
	s := &Store{
		name:    name,
		entries: make(map[string]*Entry),
		ser:     f.ser,
		backend: f.backend,
		log:     f.log.With().Str("cache", name).Logger(),
		now:     time.Now,
	}
	f.stores[binary] = s
	return s
}

// PrefixFor derives a stable prefix unique to a logical target (for
// example host + database), so several targets can share one backend.
func PrefixFor(target string) string {
	sum := blake3.Sum256([]byte(target))
	return hex.EncodeToString(sum[:8])
}
