package match

import (
	"context"
	"errors"
	"sync"

	"wasm-arena/internal/domain"
)

// scriptedAgent plays its moves in order, repeating the last one.
type scriptedAgent struct {
	id    string
	moves []string
	err   error

	mu        sync.Mutex
	asked     int
	starts    []domain.MatchStart
	opponents []domain.Move
	verdicts  []domain.Verdict
	offered   [][]string
}

func newScripted(id string, moves ...string) *scriptedAgent {
	return &scriptedAgent{id: id, moves: moves}
}

func (a *scriptedAgent) ID() string             { return a.id }
func (a *scriptedAgent) Name() string           { return "scripted " + a.id }
func (a *scriptedAgent) Kind() domain.AgentKind { return domain.AgentLLM }

func (a *scriptedAgent) GetMove(ctx context.Context, state *domain.GameState, player domain.Player) (domain.Move, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return domain.Move{}, a.err
	}
	if len(a.starts) > 0 {
		if valid, err := a.starts[len(a.starts)-1].Engine.ValidMoves(ctx, state, player); err == nil {
			a.offered = append(a.offered, valid)
		}
	}
	if len(a.moves) == 0 {
		return domain.Move{}, errors.New("script exhausted")
	}
	i := a.asked
	if i >= len(a.moves) {
		i = len(a.moves) - 1
	}
	a.asked++
	return domain.NewMove(player, a.moves[i]), nil
}

func (a *scriptedAgent) OnGameStart(_ context.Context, s domain.MatchStart) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts = append(a.starts, s)
}

func (a *scriptedAgent) OnOpponentMove(_ context.Context, m domain.Move) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opponents = append(a.opponents, m)
}

func (a *scriptedAgent) OnGameEnd(_ context.Context, v domain.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verdicts = append(a.verdicts, v)
}

func (a *scriptedAgent) Cancel() {}
func (a *scriptedAgent) Reset()  {}

func (a *scriptedAgent) snapshot() (asked int, starts int, opponents int, verdicts []domain.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.asked, len(a.starts), len(a.opponents), append([]domain.Verdict(nil), a.verdicts...)
}

// recordingBus records published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) count(typ domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (b *recordingBus) ofType(typ domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}
