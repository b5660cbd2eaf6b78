// Package botsetup composes a deployable bot out of configuration
// resources, or imports one from a backup archive.
package botsetup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// Sources are the raw configuration documents a bot is composed from.
type Sources struct {
	Dictionary json.RawMessage
	Behavior   json.RawMessage
	Output     json.RawMessage
}

// Bot holds the IDs of every resource created while composing a bot.
type Bot struct {
	Dictionary resource.ID
	Behavior   resource.ID
	Output     resource.ID
	Package    resource.ID
	Bot        resource.ID
}

// Composer creates bots through a resource driver.
type Composer struct {
	client *client.Client
	driver *resource.Driver
	logger *slog.Logger
}

// NewComposer returns a Composer using c.
func NewComposer(c *client.Client) *Composer {
	logger := c.Logger()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Composer{client: c, driver: resource.NewDriver(c), logger: logger}
}

// Compose creates the dictionary, behavior set and output set, a package
// referencing them and a bot referencing the package. Every resource is
// created at version 1.
func (c *Composer) Compose(ctx context.Context, src Sources) (Bot, error) {
	var bot Bot
	var err error

	if bot.Dictionary, err = c.driver.Create(ctx, resource.Dictionaries, src.Dictionary); err != nil {
		return bot, fmt.Errorf("compose bot: %w", err)
	}
	if bot.Behavior, err = c.driver.Create(ctx, resource.BehaviorSets, src.Behavior); err != nil {
		return bot, fmt.Errorf("compose bot: %w", err)
	}
	if bot.Output, err = c.driver.Create(ctx, resource.OutputSets, src.Output); err != nil {
		return bot, fmt.Errorf("compose bot: %w", err)
	}

	pkg := NewPackage(
		resource.Dictionaries.Reference(bot.Dictionary),
		resource.BehaviorSets.Reference(bot.Behavior),
		resource.OutputSets.Reference(bot.Output),
	)
	if bot.Package, err = c.driver.Create(ctx, resource.Packages, pkg); err != nil {
		return bot, fmt.Errorf("compose bot: %w", err)
	}

	cfg := BotConfiguration{Packages: []string{resource.Packages.Reference(bot.Package)}}
	if bot.Bot, err = c.driver.Create(ctx, resource.Bots, cfg); err != nil {
		return bot, fmt.Errorf("compose bot: %w", err)
	}
	c.logger.Info("bot composed", "bot", bot.Bot.ID, "package", bot.Package.ID)
	return bot, nil
}

// Import uploads a zipped bot backup and returns the ID of the imported bot.
func (c *Composer) Import(ctx context.Context, archive []byte) (resource.ID, error) {
	resp, err := c.client.PostBinary(ctx, "/backup/import", client.ContentTypeZip, archive)
	if err != nil {
		return resource.ID{}, fmt.Errorf("import bot: %w", err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return resource.ID{}, resource.Violation("import bot", resp, "2xx status")
	}
	loc := resp.Location()
	if !strings.HasPrefix(loc, resource.Bots.URI) {
		return resource.ID{}, resource.Violation("import bot", resp, "location "+resource.Bots.URI+"<id>")
	}
	id, err := resource.ParseLocation(loc)
	if err != nil {
		return resource.ID{}, fmt.Errorf("import bot: %w", err)
	}
	c.logger.Info("bot imported", "bot", id.ID, "version", id.Version)
	return id, nil
}
