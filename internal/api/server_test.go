package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/analytics"
	"github.com/user/roshambo/internal/dialogue"
	"github.com/user/roshambo/internal/memory"
	"github.com/user/roshambo/internal/types"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.StaticDir = ""
	cfg.Server.PublicURL = "http://roshambo.test/"
	cfg.Game.RebootDelayMs = 10
	cfg.Game.PermissionTimeoutSeconds = 5
	cfg.Geocoder.Enabled = false
	cfg.Narrator.IrritatedIntervalMs = 60000
	cfg.Narrator.UnstableIntervalMs = 60000
	return cfg
}

type testClient struct {
	t        *testing.T
	server   *httptest.Server
	client   *http.Client
	registry *Registry
}

func newTestClient(t *testing.T, opts ...RegistryOption) *testClient {
	t.Helper()
	pack, err := dialogue.DefaultPack()
	require.NoError(t, err)

	cfg := testConfig()
	opts = append([]RegistryOption{WithTracker(analytics.NopTracker{})}, opts...)
	registry := NewRegistry(cfg, memory.NewMapBackend(), pack, nil, opts...)
	server := httptest.NewServer(NewServer(registry, cfg, nil).Router())
	t.Cleanup(func() {
		server.Close()
		registry.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{t: t, server: server, client: &http.Client{Jar: jar}, registry: registry}
}

func (c *testClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *testClient) session(method, path string, body any) types.GameSession {
	c.t.Helper()
	resp := c.do(method, path, body)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	var session types.GameSession
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&session))
	return session
}

func (c *testClient) playerID() string {
	c.t.Helper()
	u, err := url.Parse(c.server.URL)
	require.NoError(c.t, err)
	for _, cookie := range c.client.Jar.Cookies(u) {
		if cookie.Name == PlayerCookie {
			return cookie.Value
		}
	}
	c.t.Fatal("no player cookie")
	return ""
}

func TestHealth(t *testing.T) {
	c := newTestClient(t)
	resp := c.do(http.MethodGet, "/health", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestStateIssuesPlayerCookie(t *testing.T) {
	c := newTestClient(t)

	first := c.session(http.MethodGet, "/api/state", nil)
	assert.Equal(t, types.PhaseLanding, first.Phase)
	assert.NotEmpty(t, first.DialogueLines)

	id := c.playerID()
	second := c.session(http.MethodGet, "/api/state", nil)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{id}, c.registry.IDs())
}

func TestInvalidCookieGetsFreshPlayer(t *testing.T) {
	c := newTestClient(t)

	req, err := http.NewRequest(http.MethodGet, c.server.URL+"/api/state", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: PlayerCookie, Value: "../../etc/passwd"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.NotEqual(t, "../../etc/passwd", cookies[0].Value)
	_, ok := c.registry.Lookup(cookies[0].Value)
	assert.True(t, ok)
}

func TestRoundFlow(t *testing.T) {
	c := newTestClient(t)

	started := c.session(http.MethodPost, "/api/game/start", nil)
	assert.Equal(t, types.PhasePlaying, started.Phase)

	animating := c.session(http.MethodPost, "/api/round", map[string]string{"choice": "rock"})
	assert.Equal(t, types.RoundPhaseAnimating, animating.RoundPhase)
	assert.Equal(t, types.ChoiceRock, animating.PendingPlayerChoice)

	revealed := c.session(http.MethodPost, "/api/round/reveal", nil)
	assert.Equal(t, types.RoundPhaseRevealing, revealed.RoundPhase)
	assert.Equal(t, 1, revealed.RoundsPlayed)
	assert.Equal(t, types.ChoiceRock, revealed.LastPlayerChoice)

	done := c.session(http.MethodPost, "/api/round/complete", nil)
	assert.Equal(t, types.RoundPhaseResult, done.RoundPhase)
	assert.NotEmpty(t, done.DialogueLines)

	resp := c.do(http.MethodGet, "/api/console", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.NotEmpty(t, entries)

	again := c.do(http.MethodGet, "/api/console", nil)
	var drained []map[string]any
	require.NoError(t, json.NewDecoder(again.Body).Decode(&drained))
	assert.Empty(t, drained)
}

func TestAdvanceDialogue(t *testing.T) {
	c := newTestClient(t)

	landing := c.session(http.MethodGet, "/api/state", nil)
	require.Greater(t, len(landing.DialogueLines), 1)

	advanced := c.session(http.MethodPost, "/api/dialogue/advance", nil)
	assert.Equal(t, 1, advanced.DialogueIndex)
}

func TestRoundRejectsBadChoice(t *testing.T) {
	c := newTestClient(t)
	c.session(http.MethodPost, "/api/game/start", nil)

	resp := c.do(http.MethodPost, "/api/round", map[string]string{"choice": "lizard"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	state := c.session(http.MethodGet, "/api/state", nil)
	assert.Equal(t, types.RoundPhaseIdle, state.RoundPhase)
}

func TestOutOfOrderIntentsAreIgnored(t *testing.T) {
	c := newTestClient(t)

	state := c.session(http.MethodPost, "/api/round/reveal", nil)
	assert.Equal(t, types.PhaseLanding, state.Phase)

	state = c.session(http.MethodPost, "/api/round/complete", nil)
	assert.Equal(t, types.PhaseLanding, state.Phase)
	assert.Zero(t, state.RoundsPlayed)
}

func TestPermissionEndpoints(t *testing.T) {
	c := newTestClient(t)

	resp := c.do(http.MethodPost, "/api/permission/result", map[string]any{"type": "camera", "granted": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/permission/result", map[string]any{"type": "clipboard", "granted": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// nothing pending, so the choice is a no-op
	state := c.session(http.MethodPost, "/api/permission/choice", map[string]bool{"allowed": false})
	assert.Nil(t, state.PendingPermission)

	state = c.session(http.MethodPost, "/api/permission/choice", map[string]bool{"allowed": true})
	assert.Nil(t, state.PendingPermission)
}

// constant is a Random that always draws the same value modulo n
type constant int

func (c constant) Intn(n int) int { return int(c) % n }

// pendingNotification plays one round from a seeded base of 20 so the
// notification rung is due
func pendingNotification(c *testClient, granted ...types.PermissionType) types.GameSession {
	c.t.Helper()
	c.session(http.MethodGet, "/api/state", nil)
	p, ok := c.registry.Lookup(c.playerID())
	require.True(c.t, ok)
	p.Store.Update(func(m *types.PlayerMemory) {
		m.PlayCount = 1
		m.LastEnding = types.EndingBroken
		m.PermissionsGranted = granted
	})
	c.session(http.MethodPost, "/api/reset", nil)
	c.session(http.MethodPost, "/api/game/start", nil)
	c.session(http.MethodPost, "/api/round", map[string]string{"choice": "rock"})
	c.session(http.MethodPost, "/api/round/reveal", nil)
	state := c.session(http.MethodPost, "/api/round/complete", nil)
	require.NotNil(c.t, state.PendingPermission)
	require.Equal(c.t, types.PermissionNotification, state.PendingPermission.Type)
	return state
}

func TestPermissionAllowThenResultBackToBack(t *testing.T) {
	c := newTestClient(t, WithRandom(constant(2)))
	pendingNotification(c)

	resp := c.do(http.MethodPost, "/api/permission/choice", map[string]bool{"allowed": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var waiting types.GameSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&waiting))
	require.NotNil(t, waiting.PendingPermission)
	assert.True(t, waiting.PendingPermission.IsWaitingOnBrowser)

	resp = c.do(http.MethodPost, "/api/permission/result", map[string]any{"type": "notification", "granted": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return c.session(http.MethodGet, "/api/state", nil).PendingPermission == nil
	}, time.Second, 5*time.Millisecond)
	state := c.session(http.MethodGet, "/api/state", nil)
	assert.Equal(t, []types.PermissionHistoryEntry{{Type: types.PermissionNotification, Status: types.PermissionGranted}}, state.PermissionHistory)

	// the answer was consumed, a repeat has nothing to resolve
	resp = c.do(http.MethodPost, "/api/permission/result", map[string]any{"type": "notification", "granted": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAutoGrantedPermissionIgnoresDenyOverHTTP(t *testing.T) {
	c := newTestClient(t, WithRandom(constant(2)))
	before := pendingNotification(c, types.PermissionNotification)
	require.Equal(t, types.ModeAutoGrant, before.PendingPermission.Mode)

	resp := c.do(http.MethodPost, "/api/permission/choice", map[string]bool{"allowed": false})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/permission/result", map[string]any{"type": "notification", "granted": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return c.session(http.MethodGet, "/api/state", nil).PendingPermission == nil
	}, time.Second, 5*time.Millisecond)
	state := c.session(http.MethodGet, "/api/state", nil)
	assert.Equal(t, []types.PermissionHistoryEntry{{Type: types.PermissionNotification, Status: types.PermissionGranted}}, state.PermissionHistory)
	assert.Equal(t, before.TensionSpike, state.TensionSpike)
}

func TestPermissionDenyOverHTTP(t *testing.T) {
	c := newTestClient(t, WithRandom(constant(2)))
	before := pendingNotification(c)

	state := c.session(http.MethodPost, "/api/permission/choice", map[string]bool{"allowed": false})
	assert.Nil(t, state.PendingPermission)
	assert.Equal(t, []types.PermissionHistoryEntry{{Type: types.PermissionNotification, Status: types.PermissionDenied}}, state.PermissionHistory)
	assert.Equal(t, before.TensionSpike+3, state.TensionSpike)
}

func TestSignals(t *testing.T) {
	c := newTestClient(t)

	landing := c.session(http.MethodPost, "/api/signals/tab-leave", nil)
	assert.Zero(t, landing.TabLeaveCount)
	assert.Zero(t, landing.TensionSpike)

	c.session(http.MethodPost, "/api/game/start", nil)

	state := c.session(http.MethodPost, "/api/signals/devtools", nil)
	assert.True(t, state.DevToolsOpened)

	state = c.session(http.MethodPost, "/api/signals/tab-leave", nil)
	assert.Equal(t, 1, state.TabLeaveCount)

	state = c.session(http.MethodPost, "/api/settings/mute", map[string]bool{"muted": true})
	assert.True(t, state.MusicMuted)

	c.session(http.MethodPost, "/api/signals/abandon", nil)
	p, ok := c.registry.Lookup(c.playerID())
	require.True(t, ok)
	assert.Equal(t, 1, p.Store.Load().AbandonmentCount)
}

func TestRebootAndReset(t *testing.T) {
	c := newTestClient(t)
	started := c.session(http.MethodPost, "/api/game/start", nil)

	rebooting := c.session(http.MethodPost, "/api/reboot", nil)
	assert.True(t, rebooting.IsRebooting)

	require.Eventually(t, func() bool {
		state := c.session(http.MethodGet, "/api/state", nil)
		return state.Phase == types.PhaseLanding && state.ID != started.ID
	}, time.Second, 10*time.Millisecond)

	c.session(http.MethodPost, "/api/game/start", nil)
	reset := c.session(http.MethodPost, "/api/reset", nil)
	assert.Equal(t, types.PhaseLanding, reset.Phase)
	assert.False(t, reset.IsRebooting)
}

func TestMemoryEndpoints(t *testing.T) {
	c := newTestClient(t)
	c.session(http.MethodGet, "/api/state", nil)

	p, ok := c.registry.Lookup(c.playerID())
	require.True(t, ok)
	p.Store.Update(func(m *types.PlayerMemory) {
		m.PlayCount = 4
		m.LastEnding = types.EndingEscaped
	})

	resp := c.do(http.MethodGet, "/api/memory", nil)
	var remembered types.PlayerMemory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&remembered))
	assert.Equal(t, 4, remembered.PlayCount)
	assert.Equal(t, types.EndingEscaped, remembered.LastEnding)

	resp = c.do(http.MethodDelete, "/api/memory", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = c.do(http.MethodGet, "/api/memory", nil)
	var cleared types.PlayerMemory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cleared))
	assert.Zero(t, cleared.PlayCount)
	assert.Equal(t, 0, c.session(http.MethodGet, "/api/state", nil).TensionBase)
}

func TestDisruptionAtCalm(t *testing.T) {
	c := newTestClient(t)

	resp := c.do(http.MethodGet, "/api/disruption", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"disruption":null}`, string(body))
}

func TestShareCode(t *testing.T) {
	c := newTestClient(t)

	resp := c.do(http.MethodGet, "/share.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))
}

type steppingClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistrySweepDropsIdlePlayers(t *testing.T) {
	pack, err := dialogue.DefaultPack()
	require.NoError(t, err)
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	cfg := testConfig()
	cfg.Server.SessionIdleMinutes = 30
	registry := NewRegistry(cfg, memory.NewMapBackend(), pack, nil, WithClock(clock.Now), WithTracker(analytics.NopTracker{}))
	t.Cleanup(registry.Close)

	registry.Get("a")
	clock.Advance(20 * time.Minute)
	registry.Get("b")
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, registry.Sweep())
	assert.Equal(t, []string{"b"}, registry.IDs())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, registry.Sweep())
	assert.Empty(t, registry.IDs())
}

func TestRegistrySweepRecordsAbandonedGames(t *testing.T) {
	pack, err := dialogue.DefaultPack()
	require.NoError(t, err)
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	backend := memory.NewMapBackend()

	cfg := testConfig()
	cfg.Server.SessionIdleMinutes = 30
	registry := NewRegistry(cfg, backend, pack, nil, WithClock(clock.Now), WithTracker(analytics.NopTracker{}))
	t.Cleanup(registry.Close)

	registry.Get("playing").Manager.StartGame()
	registry.Get("landing")
	clock.Advance(time.Hour)

	assert.Equal(t, 2, registry.Sweep())
	assert.Equal(t, 1, memory.NewStore(backend, "playing", nil).Load().AbandonmentCount)
	assert.Zero(t, memory.NewStore(backend, "landing", nil).Load().AbandonmentCount)
}

func TestRegistryReusesMemoryAcrossPlayers(t *testing.T) {
	pack, err := dialogue.DefaultPack()
	require.NoError(t, err)
	backend := memory.NewMapBackend()

	first := NewRegistry(testConfig(), backend, pack, nil, WithTracker(analytics.NopTracker{}))
	first.Get("p1").Store.Update(func(m *types.PlayerMemory) { m.PlayCount = 2 })
	first.Close()

	second := NewRegistry(testConfig(), backend, pack, nil, WithTracker(analytics.NopTracker{}))
	t.Cleanup(second.Close)
	assert.Equal(t, 2, second.Get("p1").Manager.Memory().PlayCount)
}
