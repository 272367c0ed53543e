package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wasm-arena/internal/domain"
)

// DefaultHumanTimeout bounds how long a human agent waits for a submission.
const DefaultHumanTimeout = 5 * time.Minute

type moveResult struct {
	move domain.Move
	err  error
}

// pendingMove is one outstanding GetMove. ch has room for exactly one
// result so resolving never blocks.
type pendingMove struct {
	player domain.Player
	ch     chan moveResult
}

var _ domain.Agent = (*HumanAgent)(nil)

// HumanAgent suspends GetMove until SubmitMove, CancelMove or the timeout
// resolves it. At most one request is pending at a time.
type HumanAgent struct {
	id      string
	name    string
	timeout time.Duration

	mu      sync.Mutex
	pending *pendingMove
	moves   int
}

// NewHumanAgent creates a human agent. A zero timeout means DefaultHumanTimeout.
func NewHumanAgent(id, name string, timeout time.Duration) *HumanAgent {
	if timeout <= 0 {
		timeout = DefaultHumanTimeout
	}
	return &HumanAgent{id: id, name: name, timeout: timeout}
}

func (a *HumanAgent) ID() string             { return a.id }
func (a *HumanAgent) Name() string           { return a.name }
func (a *HumanAgent) Kind() domain.AgentKind { return domain.AgentHuman }

// GetMove blocks until a move for player is submitted.
func (a *HumanAgent) GetMove(ctx context.Context, _ *domain.GameState, player domain.Player) (domain.Move, error) {
	a.mu.Lock()
	if a.pending != nil {
		a.mu.Unlock()
		return domain.Move{}, domain.ErrMovePending
	}
	p := &pendingMove{player: player, ch: make(chan moveResult, 1)}
	a.pending = p
	a.mu.Unlock()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		return r.move, r.err
	case <-timer.C:
		if a.abandon(p) {
			return domain.Move{}, fmt.Errorf("%w: no move from %s within %s", domain.ErrAgentTimeout, a.name, a.timeout)
		}
	case <-ctx.Done():
		if a.abandon(p) {
			return domain.Move{}, ctx.Err()
		}
	}
	// Resolved while we were giving up.
	r := <-p.ch
	return r.move, r.err
}

// abandon clears p if it is still the pending request.
func (a *HumanAgent) abandon(p *pendingMove) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != p {
		return false
	}
	a.pending = nil
	return true
}

// resolve hands r to the pending request, if any.
func (a *HumanAgent) resolve(player domain.Player, r moveResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pending
	if p == nil {
		return domain.ErrNoPendingMove
	}
	if player != "" && player != p.player {
		return fmt.Errorf("%w: waiting for %s, not %s", domain.ErrInvalidInput, p.player, player)
	}
	if r.err == nil {
		a.moves++
	}
	p.ch <- r
	a.pending = nil
	return nil
}

// SubmitMove resolves the pending request with move. It fails without
// effect when nothing is pending or player is not the one being asked.
func (a *HumanAgent) SubmitMove(move domain.Move, player domain.Player) error {
	if err := move.Validate(); err != nil {
		return err
	}
	move.Player = player
	if move.Timestamp.IsZero() {
		move.Timestamp = time.Now()
	}
	return a.resolve(player, moveResult{move: move})
}

// CancelMove rejects the pending request with ErrAgentCancelled.
func (a *HumanAgent) CancelMove() error {
	return a.resolve("", moveResult{err: domain.ErrAgentCancelled})
}

// Pending reports whether a move request is waiting for a submission.
func (a *HumanAgent) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// PendingPlayer returns the side being asked, if a request is pending.
func (a *HumanAgent) PendingPlayer() (domain.Player, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return "", false
	}
	return a.pending.player, true
}

func (a *HumanAgent) OnGameStart(context.Context, domain.MatchStart) {}
func (a *HumanAgent) OnOpponentMove(context.Context, domain.Move)    {}
func (a *HumanAgent) OnGameEnd(context.Context, domain.Verdict)      {}

// Cancel rejects any pending request.
func (a *HumanAgent) Cancel() { _ = a.CancelMove() }

// Reset is a no-op: a human agent holds nothing between requests.
func (a *HumanAgent) Reset() {}

// Stats implements domain.StatsReporter.
func (a *HumanAgent) Stats() domain.AgentStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.AgentStats{Moves: a.moves}
}
