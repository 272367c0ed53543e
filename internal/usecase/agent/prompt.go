package agent

import (
	"fmt"
	"strings"

	"wasm-arena/internal/domain"
)

const defaultSystemPrompt = `You are playing %s as %s.
Reply with exactly one move from the list of valid moves you are given. Do not explain your reasoning.`

// buildSystemPrompt derives the static per-game prompt from metadata.
func buildSystemPrompt(info domain.GameInfo, player domain.Player, structured bool) string {
	var b strings.Builder

	name := info.Name
	if name == "" {
		name = info.Metadata.Name
	}
	p := info.Metadata.AIPrompts
	if p != nil && p.SystemPrompt != "" {
		b.WriteString(p.SystemPrompt)
		fmt.Fprintf(&b, "\nYou are %s.", player)
	} else {
		fmt.Fprintf(&b, defaultSystemPrompt, name, player)
	}
	if info.Description != "" {
		b.WriteString("\n\nGame description: ")
		b.WriteString(info.Description)
	}

	if p != nil {
		if p.RulesPrompt != "" {
			b.WriteString("\n\nRules:\n")
			b.WriteString(p.RulesPrompt)
		}
		if p.MoveFormatPrompt != "" {
			b.WriteString("\n\nMove format:\n")
			b.WriteString(p.MoveFormatPrompt)
		}
		if len(p.MoveExamples) > 0 {
			b.WriteString("\n\nExample moves: ")
			b.WriteString(strings.Join(p.MoveExamples, ", "))
		}
		if len(p.StrategicHints) > 0 {
			b.WriteString("\n\nStrategy hints:")
			for _, h := range p.StrategicHints {
				b.WriteString("\n- ")
				b.WriteString(h)
			}
		}
	}

	if structured {
		b.WriteString("\n\nRespond with a JSON object of the form {\"move\": \"<move>\"} and nothing else.")
	}
	return b.String()
}

// buildTurnPrompt renders the board, the valid moves and the recent history.
func buildTurnPrompt(board string, valid []string, history []domain.Move, player domain.Player) string {
	var b strings.Builder

	b.WriteString("Current board:\n")
	b.WriteString(board)
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("Recent moves:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "- %s: %s\n", m.Player, m.Notation())
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "You are %s. Valid moves: %s\n", player, strings.Join(valid, ", "))
	b.WriteString("Your move:")
	return b.String()
}
