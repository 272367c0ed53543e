// Package match drives turn-based matches between two agents over a game
// engine and keeps the running matches of a process.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/tracer"
)

// Setup describes one match.
type Setup struct {
	MatchID string // generated when empty
	GameID  string
	Engine  domain.GameEngine
	Agents  map[domain.Player]domain.Agent

	MaxTurns           int // 0 = unlimited
	MaxInvalidAttempts int // consecutive invalid moves per turn, 0 = unlimited
}

// Controller runs at most one match at a time. The turn loop is strictly
// sequential: a single agent request is outstanding at any moment.
type Controller struct {
	bus    domain.EventBus // optional, nil = no events
	logger *slog.Logger

	mu      sync.Mutex
	status  Status
	setup   Setup
	state   *domain.GameState
	stopped bool
	done    chan struct{}
	result  *Result
}

// NewController creates an idle controller.
func NewController(bus domain.EventBus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{bus: bus, logger: logger, status: StatusNotStarted}
}

// Start begins setup in the background. It fails with ErrMatchActive while
// another match is running on this controller.
func (c *Controller) Start(ctx context.Context, setup Setup) error {
	if setup.Engine == nil {
		return fmt.Errorf("%w: match needs a game engine", domain.ErrInvalidInput)
	}
	if setup.MatchID == "" {
		setup.MatchID = newMatchID()
	}

	c.mu.Lock()
	if c.status == StatusRunning {
		c.mu.Unlock()
		return domain.ErrMatchActive
	}
	c.status = StatusRunning
	c.setup = setup
	c.state = nil
	c.stopped = false
	c.result = nil
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		res := c.run(ctx, setup)
		c.mu.Lock()
		c.result = res
		c.status = res.Status
		c.mu.Unlock()
	}()
	return nil
}

// Wait blocks until the current match finishes and returns its result.
// The error is the match's failure, if any.
func (c *Controller) Wait(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil, fmt.Errorf("%w: no match was started", domain.ErrInvalidInput)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.result.Err
}

// Run starts setup and waits for it to finish.
func (c *Controller) Run(ctx context.Context, setup Setup) (*Result, error) {
	if err := c.Start(ctx, setup); err != nil {
		return nil, err
	}
	return c.Wait(ctx)
}

// Stop keeps the loop from starting another turn. An agent request already
// in flight is left to resolve or time out on its own; the match then ends
// with ErrMatchStopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Status returns the lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the latest game state, nil before the first one exists.
func (c *Controller) State() *domain.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the last finished match's result, nil while running.
func (c *Controller) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Done is closed when the current match finishes.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Controller) setState(s *domain.GameState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// turnLoop carries the per-match bookkeeping of one run.
type turnLoop struct {
	c          *Controller
	setup      Setup
	info       domain.GameInfo
	log        *slog.Logger
	snapshot   Snapshot
	transcript *Transcript
	started    map[domain.Player]bool
	state      *domain.GameState
}

func (c *Controller) run(ctx context.Context, setup Setup) *Result {
	ctx, span := tracer.StartSpan(ctx, "match.run",
		trace.WithAttributes(
			tracer.StringAttr("match.id", setup.MatchID),
			tracer.StringAttr("game.id", setup.GameID),
		),
	)
	defer span.End()

	startedAt := time.Now()
	info := setup.Engine.Info()
	l := &turnLoop{
		c:          c,
		setup:      setup,
		info:       info,
		log:        c.logger.With("match_id", setup.MatchID),
		snapshot:   snapshotOf(setup, info, startedAt),
		transcript: &Transcript{},
		started:    make(map[domain.Player]bool),
	}

	res := &Result{MatchID: setup.MatchID, Snapshot: l.snapshot}

	outcome, winner, err := l.play(ctx)
	res.Duration = time.Since(startedAt)
	res.FinalState = l.state
	if l.state != nil {
		res.MoveCount = len(l.state.Moves)
		if text, ok := setup.Engine.Transcript(ctx, l.state); ok {
			l.transcript.Add(EntryGame, "", "%s", text)
		}
	}
	res.Stats = agentStats(setup.Agents)

	if err != nil {
		res.Status = StatusErrored
		res.Err = err
		res.Error = err.Error()
		res.ErrorCode = domain.ErrorCodeOf(err)
		l.transcript.Add(EntryError, "", "%v", err)
		res.Transcript = l.transcript.Entries()

		tracer.RecordError(span, err)
		l.log.Error("match errored", "moves", res.MoveCount, "error", err)
		c.publish(ctx, domain.EventMatchErrored, setup.MatchID, domain.MatchEndPayload{
			Result: domain.ResultOngoing, Moves: res.MoveCount, Error: err.Error(),
		})
		return res
	}

	res.Status = StatusGameOver
	res.Outcome = outcome
	res.Winner = winner
	if outcome == domain.ResultWin {
		l.transcript.Add(EntryEnd, winner, "wins after %d moves", res.MoveCount)
	} else {
		l.transcript.Add(EntryEnd, "", "%s after %d moves", outcome, res.MoveCount)
	}
	res.Transcript = l.transcript.Entries()

	// Each agent hears the verdict exactly once, even when it sits both sides.
	notified := make(map[domain.Agent]bool)
	for _, p := range domain.Players {
		a := setup.Agents[p]
		if a == nil || notified[a] {
			continue
		}
		notified[a] = true
		a.OnGameEnd(ctx, domain.VerdictFor(p, outcome, winner))
	}

	tracer.SetOK(span)
	l.log.Info("match finished", "outcome", outcome, "winner", winner, "moves", res.MoveCount, "duration", res.Duration)
	c.publish(ctx, domain.EventMatchEnded, setup.MatchID, domain.MatchEndPayload{
		Result: outcome, Winner: winner, Moves: res.MoveCount,
	})
	return res
}

// play runs the turn loop until the game ends or something fails.
func (l *turnLoop) play(ctx context.Context) (domain.Result, domain.Player, error) {
	eng := l.setup.Engine

	state, err := eng.InitialState(ctx)
	if err != nil {
		return "", "", domain.WrapOp("match.InitialState", err)
	}
	state = state.WithMetadata(domain.MetaMatchID, l.setup.MatchID)
	if l.setup.GameID != "" {
		state = state.WithMetadata(domain.MetaGameID, l.setup.GameID)
	}
	l.state = state
	l.c.setState(state)

	l.transcript.Add(EntryStart, "", "%s started", l.info.Name)
	l.log.Info("match started", "game", l.info.Name, "game_id", l.setup.GameID)
	l.c.publish(ctx, domain.EventMatchStarted, l.setup.MatchID, l.snapshot)

	invalid := 0
	for {
		if l.c.isStopped() {
			return "", "", domain.ErrMatchStopped
		}
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		over, err := eng.IsGameOver(ctx, l.state)
		if err != nil {
			return "", "", domain.WrapOp("match.IsGameOver", err)
		}
		if over {
			result, winner, err := eng.Winner(ctx, l.state)
			if err != nil {
				return "", "", domain.WrapOp("match.Winner", err)
			}
			if result == domain.ResultOngoing {
				result, winner = domain.ResultDraw, ""
			}
			return result, winner, nil
		}

		if l.setup.MaxTurns > 0 && len(l.state.Moves) >= l.setup.MaxTurns {
			return "", "", fmt.Errorf("%w: %d moves played", domain.ErrTurnLimit, len(l.state.Moves))
		}

		player, err := eng.CurrentPlayer(ctx, l.state)
		if err != nil {
			return "", "", domain.WrapOp("match.CurrentPlayer", err)
		}
		agent := l.setup.Agents[player]
		if agent == nil {
			return "", "", fmt.Errorf("%w: %s", domain.ErrNoAgent, player)
		}

		if !l.started[player] {
			l.started[player] = true
			agent.OnGameStart(ctx, domain.MatchStart{
				MatchID: l.setup.MatchID, Player: player, Engine: eng, Info: l.info,
			})
		}

		turn := len(l.state.Moves) + 1
		board, err := eng.BoardDisplay(ctx, l.state)
		if err != nil {
			l.log.Warn("board display failed", "error", err)
		}
		l.c.publish(ctx, domain.EventMatchTurn, l.setup.MatchID, domain.TurnPayload{
			Player: player, Agent: agent.ID(), Turn: turn, Board: board,
		})

		move, err := agent.GetMove(ctx, l.state, player)
		if l.c.isStopped() {
			return "", "", domain.ErrMatchStopped
		}
		if err != nil {
			return "", "", fmt.Errorf("agent %s (%s): %w", agent.ID(), player, err)
		}
		move.Player = player
		if move.Timestamp.IsZero() {
			move.Timestamp = time.Now()
		}

		move, ok, err := l.canonical(ctx, move)
		if err != nil {
			return "", "", err
		}
		if !ok {
			invalid++
			l.transcript.Add(EntryInvalid, player, "%s rejected", move.Notation())
			l.log.Warn("invalid move", "player", player, "move", move.Notation(), "attempt", invalid)
			l.c.publish(ctx, domain.EventMoveInvalid, l.setup.MatchID, domain.MovePayload{
				Player: player, Move: move.Notation(), Turn: turn, Reason: "not a valid move",
			})
			if l.setup.MaxInvalidAttempts > 0 && invalid >= l.setup.MaxInvalidAttempts {
				return "", "", &domain.InvalidMoveError{
					Move: move.Notation(), Player: player,
					Reason: fmt.Sprintf("%d invalid attempts in a row", invalid),
				}
			}
			continue
		}
		invalid = 0

		notation := eng.MoveNotation(ctx, l.state, move)
		next, err := eng.ApplyMove(ctx, l.state, move)
		if err != nil {
			return "", "", domain.WrapOp("match.ApplyMove", err)
		}
		l.state = next
		l.c.setState(next)

		l.transcript.Add(EntryMove, player, "%s", notation)
		l.log.Debug("move applied", "player", player, "move", move.Notation(), "turn", turn)
		l.c.publish(ctx, domain.EventMoveApplied, l.setup.MatchID, domain.MovePayload{
			Player: player, Move: move.Notation(), Notation: notation, Turn: turn,
		})

		if opp := l.setup.Agents[player.Opponent()]; opp != nil && opp != agent {
			opp.OnOpponentMove(ctx, move)
		}
	}
}

// canonical checks move against the fresh valid-move list for its player
// and rewrites a data payload to the list's spelling.
func (l *turnLoop) canonical(ctx context.Context, move domain.Move) (domain.Move, bool, error) {
	if move.Validate() != nil {
		return move, false, nil
	}
	valid, err := l.setup.Engine.ValidMoves(ctx, l.state, move.Player)
	if err != nil {
		return move, false, domain.WrapOp("match.ValidMoves", err)
	}
	spelled, ok := domain.MatchMove(valid, move.Notation())
	if !ok {
		return move, false, nil
	}
	if move.Position == nil {
		move.Data = spelled
	}
	return move, true, nil
}

func (c *Controller) publish(ctx context.Context, typ domain.EventType, matchID string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, domain.NewEvent(typ, matchID, payload))
}

func snapshotOf(setup Setup, info domain.GameInfo, startedAt time.Time) Snapshot {
	s := Snapshot{
		MatchID:            setup.MatchID,
		GameID:             setup.GameID,
		Game:               info.Name,
		MaxTurns:           setup.MaxTurns,
		MaxInvalidAttempts: setup.MaxInvalidAttempts,
		StartedAt:          startedAt,
	}
	for _, p := range domain.Players {
		if a := setup.Agents[p]; a != nil {
			s.Agents = append(s.Agents, AgentInfo{Player: p, ID: a.ID(), Name: a.Name(), Kind: a.Kind()})
		}
	}
	return s
}

func agentStats(agents map[domain.Player]domain.Agent) map[domain.Player]domain.AgentStats {
	out := make(map[domain.Player]domain.AgentStats)
	for p, a := range agents {
		if r, ok := a.(domain.StatsReporter); ok {
			out[p] = r.Stats()
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
