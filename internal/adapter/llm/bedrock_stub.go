//go:build !bedrock

package llm

import (
	"log/slog"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
)

func newBedrock(cfg config.ProviderConfig, _ *slog.Logger) (domain.LLMProvider, error) {
	return nil, domain.NewDomainError("NewProvider", domain.ErrInvalidInput,
		"provider "+cfg.Name+": bedrock support requires building with -tags bedrock")
}
