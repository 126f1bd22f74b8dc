// Package api exposes the game state machine to the browser over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/game"
	"github.com/user/roshambo/internal/permission"
	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

// PlayerCookie names the cookie carrying the player id
const PlayerCookie = "roshambo_player"

type playerKey struct{}

// Server holds the HTTP handlers
type Server struct {
	registry *Registry
	cfg      config.Config
	dice     *game.DiceRoller
	logger   *zap.Logger
}

// NewServer creates the handler set over registry
func NewServer(registry *Registry, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry: registry,
		cfg:      cfg,
		dice:     game.NewDiceRoller(nil),
		logger:   logger,
	}
}

// Router builds the chi router with every route mounted
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	router.Get("/share.png", s.handleShareCode)

	router.Route("/api", func(r chi.Router) {
		r.Use(s.withPlayer)

		r.Get("/state", s.handleState)
		r.Post("/game/start", s.intent(func(p *Player, _ *http.Request) { p.Manager.StartGame() }))
		r.Post("/round", s.handleRound)
		r.Post("/round/reveal", s.intent(func(p *Player, _ *http.Request) { p.Manager.RevealRound() }))
		r.Post("/round/complete", s.intent(func(p *Player, _ *http.Request) { p.Manager.CompleteReveal() }))
		r.Post("/dialogue/advance", s.intent(func(p *Player, _ *http.Request) { p.Manager.AdvanceDialogue() }))
		r.Post("/permission/choice", s.handlePermissionChoice)
		r.Post("/permission/result", s.handlePermissionResult)
		r.Post("/signals/devtools", s.intent(func(p *Player, _ *http.Request) { p.Manager.ApplyDevToolsDetected() }))
		r.Post("/signals/tab-leave", s.intent(func(p *Player, _ *http.Request) {
			// leaving the landing or ending screen is not a tab leave
			if p.Manager.GetCurrentState().Phase == types.PhasePlaying {
				p.Manager.ApplyTabLeave()
			}
		}))
		r.Post("/signals/abandon", s.intent(func(p *Player, _ *http.Request) { p.Manager.PersistAbandonment() }))
		r.Post("/settings/mute", s.handleMute)
		r.Post("/reboot", s.intent(func(p *Player, _ *http.Request) { p.Manager.StartReboot() }))
		r.Post("/reset", s.intent(func(p *Player, _ *http.Request) { p.Manager.ResetGame() }))
		r.Get("/console", s.handleConsole)
		r.Get("/disruption", s.handleDisruption)
		r.Get("/memory", s.handleMemory)
		r.Delete("/memory", s.handleClearMemory)
	})

	// Serve the browser front end
	if dir := s.cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			router.Handle("/*", http.FileServer(http.Dir(dir)))
		}
	}

	return router
}

// withPlayer resolves the player from the cookie, issuing a new id when absent
func (s *Server) withPlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(PlayerCookie); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     PlayerCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int((365 * 24 * time.Hour).Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		player := s.registry.Get(id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey{}, player)))
	})
}

func playerFrom(r *http.Request) *Player {
	return r.Context().Value(playerKey{}).(*Player)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// intent runs action and answers with the resulting session
func (s *Server) intent(action func(p *Player, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		action(p, r)
		writeJSON(w, http.StatusOK, p.Manager.GetCurrentState())
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playerFrom(r).Manager.GetCurrentState())
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Choice types.Choice `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Choice.Valid() {
		http.Error(w, "Invalid choice", http.StatusBadRequest)
		return
	}

	p := playerFrom(r)
	p.Manager.BeginRound(req.Choice)
	writeJSON(w, http.StatusOK, p.Manager.GetCurrentState())
}

func (s *Server) handlePermissionChoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	p := playerFrom(r)
	// ok is false for a settled denial or nothing to answer
	request, ok := p.Manager.ChoosePermission(req.Allowed)
	if !ok {
		writeJSON(w, http.StatusOK, p.Manager.GetCurrentState())
		return
	}
	// Registered before responding so a result posted right after the 202 finds its waiter
	p.Bridge.Expect(request.Type)
	// The browser answer arrives on a later request, so the wait cannot use this request's context
	go p.Manager.AwaitPermission(context.Background(), request)
	writeJSON(w, http.StatusAccepted, p.Manager.GetCurrentState())
}

func (s *Server) handlePermissionResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type types.PermissionType `json:"type"`
		permission.Answer
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Type.Valid() {
		http.Error(w, "Invalid permission result", http.StatusBadRequest)
		return
	}

	p := playerFrom(r)
	if !p.Bridge.Resolve(req.Type, req.Answer) {
		http.Error(w, "No permission request is waiting", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, p.Manager.GetCurrentState())
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	p := playerFrom(r)
	p.Manager.ToggleMute(req.Muted)
	writeJSON(w, http.StatusOK, p.Manager.GetCurrentState())
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playerFrom(r).Console.Drain())
}

func (s *Server) handleDisruption(w http.ResponseWriter, r *http.Request) {
	tier := playerFrom(r).Manager.GetCurrentState().TensionTier
	writeJSON(w, http.StatusOK, map[string]any{
		"disruption": game.RollDisruption(tier, s.dice),
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playerFrom(r).Store.Load())
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	p := playerFrom(r)
	p.Store.Clear()
	p.Manager.ResetGame()
	s.logger.Info("Player memory cleared", zap.String("player_id", p.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShareCode(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(s.cfg.Server.PublicURL, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("Failed to generate QR code", zap.String("url", s.cfg.Server.PublicURL), zap.Error(err))
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
