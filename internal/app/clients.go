package app

import (
	"context"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/researchbridge-backend/internal/cache"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/platform/openai"
	"github.com/yungbote/researchbridge-backend/internal/research"
	"github.com/yungbote/researchbridge-backend/internal/temporalx"
)

type Clients struct {
	Source   research.Source
	Cache    *cache.SnapshotCache
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, profile *research.Profile) (Clients, error) {
	log.Info("Wiring clients...")
	tools := research.NewToolExecutor(profile)
	out := Clients{Source: research.NewMockSource(tools)}

	if cfg.GeneratorMode == GeneratorOpenAI {
		client, err := openai.NewClient(log, cfg.OpenAI)
		if err != nil {
			log.Warn("OpenAI client unavailable; using mock generator", "error", err)
		} else {
			out.Source = research.NewOpenAISource(client, tools, profile.MaxToolRounds, log)
		}
	}

	if cfg.Cache.Addr != "" {
		c, err := cache.NewRedisSnapshotCache(log, cfg.Cache)
		if err != nil {
			log.Warn("Redis unavailable; snapshot cache disabled", "error", err)
		} else {
			out.Cache = c
		}
	}

	tc, err := temporalx.NewClient(ctx, log, cfg.Temporal)
	if err != nil {
		return out, err
	}
	out.Temporal = tc
	return out, nil
}
