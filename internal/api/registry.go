package api

import (
	"sort"
	"sync"
	"time"

	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/analytics"
	"github.com/user/roshambo/internal/dialogue"
	"github.com/user/roshambo/internal/game"
	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/memory"
	"github.com/user/roshambo/internal/narrator"
	"github.com/user/roshambo/internal/permission"
	"go.uber.org/zap"
)

// Player bundles everything one browser needs
type Player struct {
	ID        string
	Manager   *game.GameManager
	Store     *memory.Store
	Bridge    *permission.Bridge
	Console   *narrator.Buffer
	narrator  *narrator.Narrator
	analytics *analytics.Listener
	lastSeen  time.Time
}

func (p *Player) close() {
	if p.narrator != nil {
		p.narrator.Stop()
	}
	if p.analytics != nil {
		p.analytics.Stop()
	}
	p.Bridge.Close()
	p.Manager.Close()
}

// Registry builds players on first use and drops idle ones
type Registry struct {
	cfg     config.Config
	backend memory.Backend
	pack    *dialogue.Pack
	tracker analytics.Tracker
	locator permission.Locator
	rng     interfaces.Random
	now     func() time.Time
	logger  *zap.Logger

	lock    sync.Mutex
	players map[string]*Player
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithTracker replaces the analytics tracker
func WithTracker(tracker analytics.Tracker) RegistryOption {
	return func(r *Registry) { r.tracker = tracker }
}

// WithLocator replaces the reverse geocoder
func WithLocator(locator permission.Locator) RegistryOption {
	return func(r *Registry) { r.locator = locator }
}

// WithRandom replaces the crypto source behind opponents and dialogue picks
func WithRandom(rng interfaces.Random) RegistryOption {
	return func(r *Registry) { r.rng = rng }
}

// WithClock overrides time.Now for idle tracking and game clocks
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry persisting player memory in backend
func NewRegistry(cfg config.Config, backend memory.Backend, pack *dialogue.Pack, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg:     cfg,
		backend: backend,
		pack:    pack,
		tracker: analytics.NewZapTracker(logger),
		rng:     game.CryptoSource{},
		now:     time.Now,
		logger:  logger,
		players: make(map[string]*Player),
	}
	if !cfg.Analytics.Enabled {
		r.tracker = analytics.NopTracker{}
	}
	if cfg.Geocoder.Enabled {
		r.locator = permission.NewGeocoder(cfg.Geocoder)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the player for id, creating it on first use
func (r *Registry) Get(id string) *Player {
	r.lock.Lock()
	defer r.lock.Unlock()

	if p, ok := r.players[id]; ok {
		p.lastSeen = r.now()
		return p
	}

	p := r.newPlayer(id)
	r.players[id] = p
	r.logger.Info("Player joined", zap.String("player_id", id), zap.Int("players", len(r.players)))
	return p
}

// Lookup returns an existing player without creating one
func (r *Registry) Lookup(id string) (*Player, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	p, ok := r.players[id]
	return p, ok
}

func (r *Registry) newPlayer(id string) *Player {
	logger := r.logger.With(zap.String("player_id", id))
	store := memory.NewStore(r.backend, id, logger)
	bridge := permission.NewBridge(r.cfg.Game.PermissionTimeout(), r.locator, logger)
	provider := dialogue.NewProvider(r.pack, r.rng)

	manager := game.NewGameManager(r.cfg, store,
		game.WithLogger(logger),
		game.WithRandom(r.rng),
		game.WithDialogue(provider),
		game.WithPermissions(bridge),
		game.WithClock(r.now),
	)

	p := &Player{
		ID:       id,
		Manager:  manager,
		Store:    store,
		Bridge:   bridge,
		Console:  narrator.NewBuffer(r.cfg.Narrator.BufferSize),
		lastSeen: r.now(),
	}

	if r.cfg.Narrator.Enabled {
		sink := narrator.Tee(p.Console, narrator.LogSink{Logger: logger})
		p.narrator = narrator.New(r.cfg.Narrator, provider, sink, r.rng, logger)
		p.narrator.Attach(manager)
	}
	if r.cfg.Analytics.Enabled {
		p.analytics = analytics.NewListener(r.tracker, r.now)
		p.analytics.Attach(manager)
	}
	return p
}

// IDs lists active players
func (r *Registry) IDs() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	ids := make([]string, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep drops players idle for longer than the configured limit
func (r *Registry) Sweep() int {
	idle := time.Duration(r.cfg.Server.SessionIdleMinutes) * time.Minute
	if idle <= 0 {
		return 0
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	cutoff := r.now().Add(-idle)
	dropped := 0
	for id, p := range r.players {
		if p.lastSeen.Before(cutoff) {
			// a player who went away mid-game counts as abandoning it
			p.Manager.PersistAbandonment()
			p.close()
			delete(r.players, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Info("Dropped idle players", zap.Int("count", dropped), zap.Int("remaining", len(r.players)))
	}
	return dropped
}

// Close tears down every player
func (r *Registry) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	for id, p := range r.players {
		p.close()
		delete(r.players, id)
	}
}
