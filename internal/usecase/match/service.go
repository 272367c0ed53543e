package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/usecase/agent"
)

// EngineSpawner hands out a fresh engine per match.
type EngineSpawner interface {
	SpawnEngine(ctx context.Context, gameID string) (domain.GameEngine, error)
}

// ProviderSource resolves LLM providers by name.
type ProviderSource interface {
	Get(name string) (domain.LLMProvider, error)
	Default() (domain.LLMProvider, error)
}

// humanSeat is implemented by agents that take externally submitted moves.
type humanSeat interface {
	SubmitMove(move domain.Move, player domain.Player) error
	CancelMove() error
	Pending() bool
}

// ServiceDeps holds injected dependencies for the match service.
type ServiceDeps struct {
	Games     EngineSpawner
	Providers ProviderSource  // optional, nil = human players only
	Bus       domain.EventBus // optional, nil = no events
	Logger    *slog.Logger
	Match     config.MatchConfig
	Agent     config.AgentConfig

	CleanupInterval time.Duration // default 1m
}

type matchEntry struct {
	id        string
	gameID    string
	specs     []PlayerSpec
	agents    map[domain.Player]domain.Agent
	ctrl      *Controller
	createdAt time.Time
	endedAt   *time.Time
	cancel    context.CancelFunc
}

// Service keeps the matches of this process, keyed by id. Each match runs
// on its own controller and engine instance.
type Service struct {
	deps ServiceDeps

	mu       sync.Mutex
	matches  map[string]*matchEntry
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewService creates a Service and starts the retention cleanup goroutine.
func NewService(deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.CleanupInterval <= 0 {
		deps.CleanupInterval = time.Minute
	}
	s := &Service{
		deps:    deps,
		matches: make(map[string]*matchEntry),
		stopCh:  make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// PlayerSummary describes one seat of a match.
type PlayerSummary struct {
	AgentInfo
	Spec    string `json:"spec"`
	Pending bool   `json:"pending,omitempty"`
}

// Summary is the externally visible view of a match.
type Summary struct {
	ID        string            `json:"id"`
	GameID    string            `json:"game_id"`
	Status    Status            `json:"status"`
	Players   []PlayerSummary   `json:"players"`
	State     *domain.GameState `json:"state,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Result    *Result           `json:"result,omitempty"`
}

// Create seats one agent per spec, first spec on PlayerOne, and starts the
// match in the background.
func (s *Service) Create(ctx context.Context, gameID string, specs []PlayerSpec) (*Summary, error) {
	if len(specs) != len(domain.Players) {
		return nil, domain.NewSubSystemError("match", "Service.Create", domain.ErrInvalidInput,
			fmt.Sprintf("need %d players, got %d", len(domain.Players), len(specs)))
	}
	select {
	case <-s.stopCh:
		return nil, domain.NewSubSystemError("match", "Service.Create", domain.ErrMatchStopped, "service is shutting down")
	default:
	}

	id := newMatchID()
	agents := make(map[domain.Player]domain.Agent, len(specs))
	for i, p := range domain.Players {
		a, err := s.buildAgent(id, p, specs[i])
		if err != nil {
			return nil, err
		}
		agents[p] = a
	}

	eng, err := s.deps.Games.SpawnEngine(ctx, gameID)
	if err != nil {
		return nil, err
	}

	// The match outlives the request that created it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ctrl := NewController(s.deps.Bus, s.deps.Logger)
	entry := &matchEntry{
		id:        id,
		gameID:    gameID,
		specs:     specs,
		agents:    agents,
		ctrl:      ctrl,
		createdAt: time.Now(),
		cancel:    cancel,
	}

	err = ctrl.Start(runCtx, Setup{
		MatchID:            id,
		GameID:             gameID,
		Engine:             eng,
		Agents:             agents,
		MaxTurns:           s.deps.Match.MaxTurns,
		MaxInvalidAttempts: s.deps.Match.MaxInvalidAttempts,
	})
	if err != nil {
		cancel()
		_ = eng.Close(context.Background())
		return nil, err
	}

	s.mu.Lock()
	s.matches[id] = entry
	s.mu.Unlock()

	go s.reap(entry, eng)
	s.deps.Logger.Info("match created", "match_id", id, "game_id", gameID,
		"player_one", specs[0].String(), "player_two", specs[1].String())

	return s.summarize(entry), nil
}

// reap releases a finished match's engine.
func (s *Service) reap(e *matchEntry, eng domain.GameEngine) {
	<-e.ctrl.Done()
	if err := eng.Close(context.Background()); err != nil {
		s.deps.Logger.Warn("engine close failed", "match_id", e.id, "error", err)
	}
	e.cancel()

	now := time.Now()
	s.mu.Lock()
	e.endedAt = &now
	s.mu.Unlock()
}

func (s *Service) buildAgent(matchID string, player domain.Player, spec PlayerSpec) (domain.Agent, error) {
	agentID := fmt.Sprintf("%s-%s", matchID, player)
	switch spec.Kind {
	case domain.AgentHuman:
		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = s.deps.Match.HumanMoveTimeout
		}
		name := spec.Name
		if name == "" {
			name = "Human (" + string(player) + ")"
		}
		return agent.NewHumanAgent(agentID, name, timeout), nil

	case domain.AgentLLM:
		if s.deps.Providers == nil {
			return nil, domain.NewSubSystemError("match", "Service.Create", domain.ErrProviderNotFound, "no llm providers configured")
		}
		var (
			provider domain.LLMProvider
			err      error
		)
		if spec.Provider == "" {
			provider, err = s.deps.Providers.Default()
		} else {
			provider, err = s.deps.Providers.Get(spec.Provider)
		}
		if err != nil {
			return nil, err
		}

		cfg := agent.LLMConfigFrom(s.deps.Agent)
		cfg.Model = spec.Model
		name := spec.Name
		if name == "" {
			name = provider.Name()
			if spec.Model != "" {
				name += "/" + spec.Model
			}
		}
		return agent.NewLLMAgent(agentID, name, agent.LLMAgentDeps{
			Provider: provider,
			Config:   cfg,
			Bus:      s.deps.Bus,
			Logger:   s.deps.Logger.With("agent", agentID),
		}), nil
	}
	return nil, domain.NewSubSystemError("match", "Service.Create", domain.ErrInvalidInput,
		fmt.Sprintf("unknown player kind %q", spec.Kind))
}

func (s *Service) lookup(op, id string) (*matchEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.matches[id]
	if !ok {
		return nil, domain.NewSubSystemError("match", op, domain.ErrMatchNotFound, id)
	}
	return e, nil
}

// Get returns the match with id.
func (s *Service) Get(id string) (*Summary, error) {
	e, err := s.lookup("Service.Get", id)
	if err != nil {
		return nil, err
	}
	return s.summarize(e), nil
}

// List returns every known match, newest first.
func (s *Service) List() []Summary {
	s.mu.Lock()
	entries := make([]*matchEntry, 0, len(s.matches))
	for _, e := range s.matches {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].createdAt.After(entries[j].createdAt) })
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, *s.summarize(e))
	}
	return out
}

func (s *Service) summarize(e *matchEntry) *Summary {
	s.mu.Lock()
	endedAt := e.endedAt
	s.mu.Unlock()

	sum := &Summary{
		ID:        e.id,
		GameID:    e.gameID,
		Status:    e.ctrl.Status(),
		State:     e.ctrl.State(),
		CreatedAt: e.createdAt,
		EndedAt:   endedAt,
	}
	if sum.Status.Finished() {
		sum.Result = e.ctrl.Result()
	}
	for i, p := range domain.Players {
		a := e.agents[p]
		ps := PlayerSummary{
			AgentInfo: AgentInfo{Player: p, ID: a.ID(), Name: a.Name(), Kind: a.Kind()},
			Spec:      e.specs[i].String(),
		}
		if h, ok := a.(humanSeat); ok {
			ps.Pending = h.Pending()
		}
		sum.Players = append(sum.Players, ps)
	}
	return sum
}

// seat returns the human agent playing player in match id.
func (s *Service) seat(op, id string, player domain.Player) (humanSeat, error) {
	if !player.Valid() {
		return nil, domain.NewSubSystemError("match", op, domain.ErrInvalidInput, fmt.Sprintf("unknown player %q", player))
	}
	e, err := s.lookup(op, id)
	if err != nil {
		return nil, err
	}
	if e.ctrl.Status().Finished() {
		return nil, domain.NewSubSystemError("match", op, domain.ErrMatchStopped, "match is over")
	}
	h, ok := e.agents[player].(humanSeat)
	if !ok {
		return nil, domain.NewSubSystemError("match", op, domain.ErrInvalidInput, fmt.Sprintf("%s is not a human player", player))
	}
	return h, nil
}

// SubmitMove resolves the pending move request of a human player.
func (s *Service) SubmitMove(id string, player domain.Player, move domain.Move) error {
	h, err := s.seat("Service.SubmitMove", id, player)
	if err != nil {
		return err
	}
	return h.SubmitMove(move, player)
}

// CancelMove rejects the pending move request of a human player, which
// ends the match.
func (s *Service) CancelMove(id string, player domain.Player) error {
	h, err := s.seat("Service.CancelMove", id, player)
	if err != nil {
		return err
	}
	return h.CancelMove()
}

// Stop ends a running match. Pending agent requests are cancelled so the
// loop can observe the stop.
func (s *Service) Stop(id string) error {
	e, err := s.lookup("Service.Stop", id)
	if err != nil {
		return err
	}
	if e.ctrl.Status().Finished() {
		return nil
	}
	e.ctrl.Stop()
	for _, a := range e.agents {
		a.Cancel()
	}
	s.deps.Logger.Info("match stopped", "match_id", id)
	return nil
}

// Wait blocks until match id finishes.
func (s *Service) Wait(ctx context.Context, id string) (*Result, error) {
	e, err := s.lookup("Service.Wait", id)
	if err != nil {
		return nil, err
	}
	return e.ctrl.Wait(ctx)
}

// Shutdown stops every running match and waits for them to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	ids := make([]string, 0, len(s.matches))
	for id := range s.matches {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}
	for _, id := range ids {
		e, err := s.lookup("Service.Shutdown", id)
		if err != nil {
			continue
		}
		select {
		case <-e.ctrl.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(s.deps.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup forgets matches that ended longer than the retention ago.
func (s *Service) cleanup(now time.Time) int {
	retention := s.deps.Match.Retention
	if retention <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.matches {
		if e.endedAt != nil && now.Sub(*e.endedAt) > retention {
			delete(s.matches, id)
			removed++
		}
	}
	if removed > 0 {
		s.deps.Logger.Debug("finished matches cleaned up", "count", removed)
	}
	return removed
}

func newMatchID() string {
	return ulid.Make().String()
}
