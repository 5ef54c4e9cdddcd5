package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/game"
)

// A snapshot older than this marks the daemon unhealthy: the chain poller
// has stopped delivering.
const staleSnapshotThreshold = 30 * time.Second

const nameLookupTimeout = 5 * time.Second

type apiGameResponse struct {
	Game        *game.GameSnapshot      `json:"game"`
	Round       *game.RoundSnapshot     `json:"round,omitempty"`
	Display     game.DisplayState       `json:"display"`
	Team0Artist game.Address            `json:"team0_artist,omitempty"`
	Team1Artist game.Address            `json:"team1_artist,omitempty"`
	Names       map[game.Address]string `json:"names,omitempty"`
	FetchedAt   time.Time               `json:"fetched_at"`
}

type apiCanvasResponse struct {
	Team    game.TeamIndex `json:"team"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Deltas  []canvas.Delta `json:"deltas"`
	Pending int            `json:"pending"`
}

type healthResponse struct {
	Healthy     bool           `json:"healthy"`
	Spectator   bool           `json:"spectator"`
	Mirror      bool           `json:"mirror_enabled"`
	HasSnapshot bool           `json:"has_snapshot"`
	FetchedAt   time.Time      `json:"fetched_at,omitempty"`
	Connections int            `json:"connections"`
	UptimeS     int64          `json:"uptime_s"`
	Counters    healthCounters `json:"counters"`
	Errors      []string       `json:"errors,omitempty"`
}

type healthCounters struct {
	EventsBroadcast  uint64 `json:"events_broadcast"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsRejected uint64 `json:"commands_rejected"`
	GuessesSubmitted uint64 `json:"guesses_submitted"`
	FlushesSucceeded uint64 `json:"flushes_succeeded"`
	FlushesFailed    uint64 `json:"flushes_failed"`
}

// RegisterRoutes mounts the WebSocket endpoint and the REST surface on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/api/game", s.handleGame)
	mux.HandleFunc("/api/canvas", s.handleCanvas)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
}

// handleGame serves the full confirmed view for initial page loads; after
// this the browser follows the WebSocket diffs.
func (s *Service) handleGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u, ok := s.snapshots.Latest()
	if !ok {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}

	resp := apiGameResponse{
		Game:      u.Game,
		Round:     u.Round,
		Display:   u.Display,
		FetchedAt: u.FetchedAt,
	}
	if u.Round != nil {
		resp.Team0Artist, _ = game.CurrentArtist(u.Game, game.Team0, u.Round.Number)
		resp.Team1Artist, _ = game.CurrentArtist(u.Game, game.Team1, u.Round.Number)
	}
	if s.names != nil {
		ctx, cancel := context.WithTimeout(r.Context(), nameLookupTimeout)
		defer cancel()
		roster := make([]game.Address, 0, len(u.Game.Team0Players)+len(u.Game.Team1Players))
		roster = append(roster, u.Game.Team0Players...)
		roster = append(roster, u.Game.Team1Players...)
		resp.Names = s.names.DisplayAll(ctx, roster)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCanvas serves one team's confirmed canvas. The local player's own
// canvas is composited with deltas still sitting in the batcher so the
// page load matches what the artist sees.
func (s *Service) handleCanvas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	team, err := parseTeamParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, ok := s.snapshots.Latest()
	if !ok {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}

	bmp := u.Canvas[team]
	if bmp == nil {
		bmp = canvas.NewBitmap()
	}
	resp := apiCanvasResponse{
		Team:   team,
		Width:  u.Game.CanvasWidth,
		Height: u.Game.CanvasHeight,
	}
	if b := s.currentBatcher(); b != nil && b.Team() == team {
		pending := b.UnconfirmedDeltas()
		bmp = bmp.Overlay(pending)
		resp.Pending = len(pending)
	}
	resp.Deltas = bmp.Deltas()

	writeJSON(w, http.StatusOK, resp)
}

func parseTeamParam(r *http.Request) (game.TeamIndex, error) {
	raw := r.URL.Query().Get("team")
	if raw == "" {
		return game.Team0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || (n != 0 && n != 1) {
		return 0, errors.New("team must be 0 or 1")
	}
	return game.TeamIndex(n), nil
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	total, _ := s.manager.Stats()
	now := s.clock.Now()

	resp := healthResponse{
		Healthy:     true,
		Spectator:   !s.guesses.CanSubmit(),
		Mirror:      s.cfg.MirrorEnabled,
		Connections: total,
		UptimeS:     int64(now.Sub(s.startedAt) / time.Second),
		Counters: healthCounters{
			EventsBroadcast:  s.metrics.EventsBroadcast.Load(),
			CommandsReceived: s.metrics.CommandsReceived.Load(),
			CommandsRejected: s.metrics.CommandsRejected.Load(),
			GuessesSubmitted: s.metrics.GuessesSubmitted.Load(),
			FlushesSucceeded: s.metrics.FlushesSucceeded.Load(),
			FlushesFailed:    s.metrics.FlushesFailed.Load(),
		},
	}

	u, ok := s.snapshots.Latest()
	resp.HasSnapshot = ok
	switch {
	case !ok:
		resp.Healthy = false
		resp.Errors = append(resp.Errors, "no chain snapshot yet")
	case now.Sub(u.FetchedAt) > staleSnapshotThreshold:
		resp.Healthy = false
		resp.Errors = append(resp.Errors, "chain snapshot is stale")
		resp.FetchedAt = u.FetchedAt
	default:
		resp.FetchedAt = u.FetchedAt
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	total, _ := s.manager.Stats()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := w.Write([]byte(s.metrics.Export(total))); err != nil {
		log.Debug().Err(err).Msg("failed to write metrics response")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}
