package harness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/labsai/EDDI-integration-tests/internal/botsetup"
	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// setup prepares every bot of the scenario concurrently. The first
// failure cancels the others.
func (r *runner) setup(ctx context.Context) error {
	if len(r.scenario.Bots) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range r.scenario.Bots {
		g.Go(func() error {
			stepCtx := client.WithStep(gctx, setupStepPrefix+spec.Name)
			if err := r.prepareBot(stepCtx, spec); err != nil {
				return fmt.Errorf("bot %s: %w", spec.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// prepareBot composes or imports one bot and deploys it. Each bot gets its
// own composer since a composer tracks the resource it last created.
func (r *runner) prepareBot(ctx context.Context, spec BotSpec) error {
	composer := botsetup.NewComposer(r.client)

	var botID resource.ID
	if spec.Import != "" {
		archive, err := r.fixtures.Load(spec.Import)
		if err != nil {
			return err
		}
		if botID, err = composer.Import(ctx, archive); err != nil {
			return err
		}
	} else {
		vars := r.vars(nil)
		var src botsetup.Sources
		var err error
		if src.Dictionary, err = r.fixtures.LoadJSON(spec.Dictionary, vars); err != nil {
			return err
		}
		if src.Behavior, err = r.fixtures.LoadJSON(spec.Behavior, vars); err != nil {
			return err
		}
		if src.Output, err = r.fixtures.LoadJSON(spec.Output, vars); err != nil {
			return err
		}
		bot, err := composer.Compose(ctx, src)
		if err != nil {
			return err
		}
		r.bind(spec.Name+".dictionary", resource.Dictionaries, bot.Dictionary)
		r.bind(spec.Name+".behavior", resource.BehaviorSets, bot.Behavior)
		r.bind(spec.Name+".output", resource.OutputSets, bot.Output)
		r.bind(spec.Name+".package", resource.Packages, bot.Package)
		botID = bot.Bot
	}
	r.bind(spec.Name, resource.Bots, botID)

	if !spec.Deployed() {
		return nil
	}
	if err := r.poller.Deploy(ctx, botID); err != nil {
		return err
	}
	r.logger.Info("bot ready", "bot", spec.Name, "id", botID.ID, "version", botID.Version)
	return nil
}
