// Package memory keeps the cross-session PlayerMemory record.
//
// The store is a best-effort affordance: reads degrade to the default record and
// write failures are logged and dropped, so a blocked or corrupt backend never
// interrupts a game in progress.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

// ErrNotFound is returned by backends for a slot that holds no record
var ErrNotFound = errors.New("memory slot not found")

// Backend stores raw records by slot key
type Backend interface {
	Get(ctx context.Context, slot string) ([]byte, error)
	Put(ctx context.Context, slot string, data []byte) error
	Delete(ctx context.Context, slot string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Store is the PlayerMemory slot of one player
type Store struct {
	backend Backend
	slot    string
	logger  *zap.Logger
	lock    sync.Mutex
}

var _ interfaces.MemoryStore = (*Store)(nil)

// NewStore binds a backend slot to a store
func NewStore(backend Backend, slot string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		slot:    slot,
		logger:  logger,
	}
}

// Slot returns the key this store reads and writes
func (s *Store) Slot() string {
	return s.slot
}

// Load reads the record. Missing or corrupt data yields the default record.
func (s *Store) Load() types.PlayerMemory {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.load()
}

func (s *Store) load() types.PlayerMemory {
	data, err := s.backend.Get(context.Background(), s.slot)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to read player memory", zap.String("slot", s.slot), zap.Error(err))
		}
		return types.DefaultPlayerMemory()
	}

	memory, err := Decode(data)
	if err != nil {
		s.logger.Warn("Discarding corrupt player memory", zap.String("slot", s.slot), zap.Error(err))
		return types.DefaultPlayerMemory()
	}
	return memory
}

// Save writes the record, dropping any backend failure
func (s *Store) Save(memory types.PlayerMemory) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.save(memory)
}

func (s *Store) save(memory types.PlayerMemory) {
	Normalize(&memory)
	data, err := json.Marshal(memory)
	if err != nil {
		s.logger.Warn("Failed to encode player memory", zap.String("slot", s.slot), zap.Error(err))
		return
	}
	if err := s.backend.Put(context.Background(), s.slot, data); err != nil {
		s.logger.Warn("Failed to save player memory", zap.String("slot", s.slot), zap.Error(err))
	}
}

// Clear removes the record, dropping any backend failure
func (s *Store) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.backend.Delete(context.Background(), s.slot); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("Failed to clear player memory", zap.String("slot", s.slot), zap.Error(err))
	}
}

// Update applies mutate to the stored record and saves it immediately.
// It is the only read-modify-write path; callers never hand-edit a loaded copy.
func (s *Store) Update(mutate func(memory *types.PlayerMemory)) types.PlayerMemory {
	s.lock.Lock()
	defer s.lock.Unlock()

	memory := s.load()
	mutate(&memory)
	Normalize(&memory)
	s.save(memory)
	return memory
}

// Decode parses a stored record, merging present fields over the defaults
func Decode(data []byte) (types.PlayerMemory, error) {
	memory := types.DefaultPlayerMemory()
	if err := json.Unmarshal(data, &memory); err != nil {
		return types.DefaultPlayerMemory(), fmt.Errorf("failed to parse player memory: %w", err)
	}
	Normalize(&memory)
	return memory, nil
}

// Normalize enforces set semantics and sane values on a record
func Normalize(memory *types.PlayerMemory) {
	memory.PermissionsGranted = dedupe(memory.PermissionsGranted)
	memory.PermissionsDenied = dedupe(memory.PermissionsDenied)
	if memory.PlayCount < 0 {
		memory.PlayCount = 0
	}
	if memory.AbandonmentCount < 0 {
		memory.AbandonmentCount = 0
	}
	if memory.LastEnding != types.EndingBroken && memory.LastEnding != types.EndingEscaped {
		memory.LastEnding = types.EndingNone
	}
	if memory.KnownCity != nil && *memory.KnownCity == "" {
		memory.KnownCity = nil
	}
}

// MergeSession folds a finished session into the record. Outcomes from this
// session win over older ones, so a type never stays in both sets.
func MergeSession(memory *types.PlayerMemory, history []types.PermissionHistoryEntry, ending types.EndingType, now time.Time) {
	memory.PlayCount++
	memory.LastEnding = ending
	playedAt := now.UTC()
	memory.LastPlayedAt = &playedAt

	for _, entry := range history {
		switch entry.Status {
		case types.PermissionGranted:
			memory.PermissionsGranted = append(memory.PermissionsGranted, entry.Type)
			memory.PermissionsDenied = without(memory.PermissionsDenied, entry.Type)
		case types.PermissionDenied:
			memory.PermissionsDenied = append(memory.PermissionsDenied, entry.Type)
			memory.PermissionsGranted = without(memory.PermissionsGranted, entry.Type)
		}
		if entry.Type == types.PermissionGeolocation && entry.Data != "" {
			city := entry.Data
			memory.KnownCity = &city
		}
	}
	Normalize(memory)
}

func dedupe(list []types.PermissionType) []types.PermissionType {
	seen := make(map[types.PermissionType]bool, len(list))
	out := make([]types.PermissionType, 0, len(list))
	for _, p := range list {
		if !p.Valid() || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func without(list []types.PermissionType, p types.PermissionType) []types.PermissionType {
	out := make([]types.PermissionType, 0, len(list))
	for _, item := range list {
		if item != p {
			out = append(out, item)
		}
	}
	return out
}
