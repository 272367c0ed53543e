package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/usecase/match"
)

func runPlay(args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	cfgPath := fs.String("config", configPath(nil), "config file")
	p1 := fs.String("p1", "human", "player one: human | human:<timeout> | llm[:provider[:model]]")
	p2 := fs.String("p2", "llm", "player two")
	maxTurns := fs.Int("max-turns", -1, "stop after this many moves (overrides match.max_turns)")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 1 || len(pos) > 2 {
		return fmt.Errorf("usage: arena play <module.wasm> [metadata] --p1 <spec> --p2 <spec>")
	}
	metaPath := ""
	if len(pos) == 2 {
		metaPath = pos[1]
	}

	specs := make([]match.PlayerSpec, 0, 2)
	for _, raw := range []string{*p1, *p2} {
		spec, err := match.ParsePlayerSpec(raw)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *maxTurns >= 0 {
		cfg.Match.MaxTurns = *maxTurns
	}
	// Guest and host logs would interleave with the board.
	if cfg.Logger.Output == "" || cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	module, meta, err := plugin.ReadCandidate(candidateFor(pos[0], metaPath))
	if err != nil {
		return err
	}
	g, err := a.loader.LoadFromBytes(ctx, module, meta)
	if err != nil {
		return err
	}

	res, err := playMatch(ctx, a.matches, a.bus, g.ID, specs, os.Stdin, os.Stdout)
	if res == nil {
		return err
	}
	return nil
}

// playMatch runs one match on the terminal. Human moves are read from in,
// one per line; "quit" stops the match. The result is returned even when
// the match ended with an error.
func playMatch(ctx context.Context, svc *match.Service, bus domain.EventBus, gameID string,
	specs []match.PlayerSpec, in io.Reader, out io.Writer) (*match.Result, error) {

	humans := make(map[domain.Player]bool)
	for i, p := range domain.Players {
		humans[p] = specs[i].Kind == domain.AgentHuman
	}

	// One process plays one match, so every match event is ours.
	events := make(chan domain.Event, 64)
	quit := make(chan struct{})
	defer close(quit)
	unsub := bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		switch ev.Type {
		case domain.EventMatchTurn, domain.EventMoveApplied, domain.EventMoveInvalid:
		default:
			return
		}
		select {
		case events <- ev:
		case <-quit:
		}
	})
	defer unsub()

	sum, err := svc.Create(ctx, gameID, specs)
	if err != nil {
		return nil, err
	}
	for _, p := range sum.Players {
		fmt.Fprintf(out, "%s: %s\n", p.Player, p.Name)
	}

	done := make(chan struct{})
	var (
		res    *match.Result
		resErr error
	)
	go func() {
		defer close(done)
		res, resErr = svc.Wait(context.WithoutCancel(ctx), sum.ID)
	}()

	lines := readLines(in)
	for {
		select {
		case <-done:
			printResult(out, res)
			return res, resErr

		case <-ctx.Done():
			_ = svc.Stop(sum.ID)
			<-done
			printResult(out, res)
			return res, resErr

		case ev := <-events:
			if turn, ok := decodeTurn(ev); ok && humans[turn.Player] {
				printBoard(out, turn)
				fmt.Fprintf(out, "%s> ", turn.Player)
				if !readHumanMove(ctx, svc, sum.ID, turn.Player, lines, done, out) {
					_ = svc.Stop(sum.ID)
				}
				continue
			}
			printEvent(out, ev)
		}
	}
}

// readHumanMove reads lines until one is accepted. Returns false when the
// player quits or input ends.
func readHumanMove(ctx context.Context, svc *match.Service, id string, player domain.Player,
	lines <-chan string, done <-chan struct{}, out io.Writer) bool {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return false
			}
			line = strings.TrimSpace(line)
			if strings.EqualFold(line, "quit") {
				return false
			}
			err := submitWhenPending(ctx, svc, id, player, line)
			if err == nil {
				return true
			}
			fmt.Fprintf(out, "error: %v\n%s> ", err, player)
		case <-done:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

// submitWhenPending submits move once the controller has asked player for
// it. The turn event is published just before the request opens.
func submitWhenPending(ctx context.Context, svc *match.Service, id string, player domain.Player, move string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := svc.SubmitMove(id, player, domain.NewMove(player, move))
		if !errors.Is(err, domain.ErrNoPendingMove) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func decodeTurn(ev domain.Event) (domain.TurnPayload, bool) {
	var turn domain.TurnPayload
	if ev.Type != domain.EventMatchTurn || json.Unmarshal(ev.Payload, &turn) != nil {
		return turn, false
	}
	return turn, true
}

func printBoard(out io.Writer, turn domain.TurnPayload) {
	fmt.Fprintf(out, "\nturn %d, %s to move\n", turn.Turn, turn.Player)
	if turn.Board != "" {
		fmt.Fprintln(out, strings.TrimRight(turn.Board, "\n"))
	}
}

func printEvent(out io.Writer, ev domain.Event) {
	switch ev.Type {
	case domain.EventMatchTurn:
		if turn, ok := decodeTurn(ev); ok {
			fmt.Fprintf(out, "turn %d: %s is thinking\n", turn.Turn, turn.Player)
		}
	case domain.EventMoveApplied, domain.EventMoveInvalid:
		var mv domain.MovePayload
		if json.Unmarshal(ev.Payload, &mv) != nil {
			return
		}
		if ev.Type == domain.EventMoveInvalid {
			fmt.Fprintf(out, "%s: invalid move %q (%s)\n", mv.Player, mv.Move, mv.Reason)
			return
		}
		notation := mv.Notation
		if notation == "" {
			notation = mv.Move
		}
		fmt.Fprintf(out, "%s plays %s\n", mv.Player, notation)
	}
}

func printResult(out io.Writer, res *match.Result) {
	if res == nil {
		return
	}
	fmt.Fprintln(out)
	switch {
	case res.Status == match.StatusErrored:
		fmt.Fprintf(out, "match ended with an error after %d moves: %s\n", res.MoveCount, res.Error)
	case res.Outcome == domain.ResultDraw || res.Winner == "":
		fmt.Fprintf(out, "draw after %d moves\n", res.MoveCount)
	default:
		fmt.Fprintf(out, "%s wins after %d moves\n", res.Winner, res.MoveCount)
	}
	if res.FinalState != nil && res.FinalState.Board != "" {
		fmt.Fprintln(out, strings.TrimRight(res.FinalState.Board, "\n"))
	}
	fmt.Fprintf(out, "duration: %s\n", res.Duration.Round(time.Millisecond))
}
