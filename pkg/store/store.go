// Package store archives run reports so earlier analyses can be listed,
// shown and deleted.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/export"
)

// ErrNotFound is returned when a run id is not in the archive.
var ErrNotFound = errors.New("store: run not found")

// Backend defines the interface for run archive backends.
type Backend interface {
	// Save persists a report under its run id.
	Save(ctx context.Context, rep *export.RunReport) error

	// Load retrieves a report by run id.
	Load(ctx context.Context, id string) (*export.RunReport, error)

	// List returns the archived runs, newest first.
	List(ctx context.Context) ([]Entry, error)

	// Delete removes a run.
	Delete(ctx context.Context, id string) error

	// Name returns the backend name for logging.
	Name() string
}

// Entry describes an archived run.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source,omitempty"`
	Instances int       `json:"instances,omitempty"`
	Size      int64     `json:"size,omitempty"`
}

func entryOf(rep *export.RunReport, size int64) Entry {
	return Entry{
		ID:        rep.RunID,
		CreatedAt: rep.CreatedAt,
		Source:    rep.Source,
		Instances: rep.Summary.Instances,
		Size:      size,
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func storeError(err error, backend, op, id string) error {
	if err == nil {
		return nil
	}
	e := werrors.Wrap(err, werrors.CodeStore, fmt.Sprintf("%s %s", backend, op))
	if id != "" {
		e = e.WithContext("run", id)
	}
	return e
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of none, local, redis, s3.
	Backend string `yaml:"backend"`

	// Mirror optionally names a second backend that receives a copy of
	// every run and serves loads the primary cannot.
	Mirror string `yaml:"mirror"`

	Dir     string        `yaml:"dir"`
	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// Backends lists the accepted backend names.
var Backends = []string{"none", "local", "redis", "s3"}

// Open builds the configured backend. It returns nil for "none". Remote
// backends are wrapped in a Breaker.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.Backend == "" || cfg.Backend == "none" {
		return nil, nil
	}
	primary, err := open(ctx, cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Mirror == "" || cfg.Mirror == "none" {
		return primary, nil
	}
	if cfg.Mirror == cfg.Backend {
		return nil, werrors.InvalidConfig("store.mirror", cfg.Mirror)
	}
	secondary, err := open(ctx, cfg.Mirror, cfg)
	if err != nil {
		return nil, err
	}
	return NewMultiBackend(primary, secondary), nil
}

func open(ctx context.Context, name string, cfg Config) (Backend, error) {
	switch name {
	case "local":
		b, err := NewLocalBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		b, err := NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewBreaker(b, cfg.Breaker), nil
	case "s3":
		b, err := NewS3Backend(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewBreaker(b, cfg.Breaker), nil
	}
	return nil, werrors.InvalidConfig("store.backend", name)
}

// MultiBackend writes to a primary and, best effort, a secondary backend.
type MultiBackend struct {
	primary   Backend
	secondary Backend
}

// NewMultiBackend creates a backend that writes to both primary and secondary.
func NewMultiBackend(primary, secondary Backend) *MultiBackend {
	return &MultiBackend{primary: primary, secondary: secondary}
}

// Save writes to both backends (primary first).
func (m *MultiBackend) Save(ctx context.Context, rep *export.RunReport) error {
	if err := m.primary.Save(ctx, rep); err != nil {
		return err
	}
	_ = m.secondary.Save(ctx, rep)
	return nil
}

// Load reads from primary, falls back to secondary.
func (m *MultiBackend) Load(ctx context.Context, id string) (*export.RunReport, error) {
	rep, err := m.primary.Load(ctx, id)
	if err == nil {
		return rep, nil
	}
	return m.secondary.Load(ctx, id)
}

// List returns the primary's runs.
func (m *MultiBackend) List(ctx context.Context) ([]Entry, error) {
	return m.primary.List(ctx)
}

// Delete removes from both backends.
func (m *MultiBackend) Delete(ctx context.Context, id string) error {
	err1 := m.primary.Delete(ctx, id)
	err2 := m.secondary.Delete(ctx, id)
	if err1 != nil {
		return err1
	}
	if err2 != nil && !errors.Is(err2, ErrNotFound) {
		return err2
	}
	return nil
}

// Name returns the combined backend names.
func (m *MultiBackend) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}
