package match

import (
	"fmt"
	"strings"
	"time"

	"wasm-arena/internal/domain"
)

// PlayerSpec says how to seat one side of a match.
type PlayerSpec struct {
	Kind     domain.AgentKind
	Provider string        // llm only; empty uses the default provider
	Model    string        // llm only; empty uses the provider's model
	Timeout  time.Duration // human only; zero uses match.human_move_timeout
	Name     string
}

// ParsePlayerSpec reads the compact form used by the CLI and the HTTP API:
//
//	human
//	human:<timeout>       e.g. human:90s
//	llm
//	llm:<provider>
//	llm:<provider>:<model>
func ParsePlayerSpec(s string) (PlayerSpec, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	switch strings.ToLower(parts[0]) {
	case string(domain.AgentHuman):
		spec := PlayerSpec{Kind: domain.AgentHuman}
		if len(parts) > 2 {
			return PlayerSpec{}, fmt.Errorf("%w: player spec %q", domain.ErrInvalidInput, s)
		}
		if len(parts) == 2 && parts[1] != "" {
			d, err := time.ParseDuration(parts[1])
			if err != nil || d <= 0 {
				return PlayerSpec{}, fmt.Errorf("%w: bad human timeout in %q", domain.ErrInvalidInput, s)
			}
			spec.Timeout = d
		}
		return spec, nil

	case string(domain.AgentLLM):
		spec := PlayerSpec{Kind: domain.AgentLLM}
		if len(parts) > 1 {
			spec.Provider = parts[1]
		}
		if len(parts) > 2 {
			spec.Model = parts[2]
		}
		return spec, nil
	}
	return PlayerSpec{}, fmt.Errorf("%w: unknown player kind in %q (want human or llm:<provider>)", domain.ErrInvalidInput, s)
}

// String returns the compact form accepted by ParsePlayerSpec.
func (s PlayerSpec) String() string {
	switch s.Kind {
	case domain.AgentHuman:
		if s.Timeout > 0 {
			return "human:" + s.Timeout.String()
		}
		return "human"
	case domain.AgentLLM:
		out := "llm"
		if s.Provider != "" || s.Model != "" {
			out += ":" + s.Provider
		}
		if s.Model != "" {
			out += ":" + s.Model
		}
		return out
	}
	return string(s.Kind)
}
