package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dyncmd/internal/logging"
	"dyncmd/internal/transport/discord"
	"dyncmd/internal/watch"
)

// serveCmd runs the long-lived services
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Discord bot and the commands directory watcher",
	Long: `Loads the registry and keeps it running until interrupted:
  - the Discord bot, when discord.token (or DISCORD_TOKEN) is set
  - the watcher, which reloads commands.json and scripts after edits

At least one of them must be enabled.`,
	RunE: serve,
}

func serve(cmd *cobra.Command, args []string) error {
	if !cfg.Watch.Enabled && !cfg.DiscordEnabled() {
		return fmt.Errorf("nothing to serve: set a Discord token or enable the watcher")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled {
		w, err := watch.New(cfg.Commands.Dir, a.locked, watch.Options{
			Debounce: cfg.GetWatchDebounce(),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if cfg.DiscordEnabled() {
		bot := discord.New(a.locked, discord.Options{
			DefaultPermission: cfg.Discord.DefaultPermission,
			AdminPermission:   cfg.Discord.AdminPermission,
			UserPermissions:   cfg.Discord.UserPermissions,
			RateLimit:         cfg.Discord.RateLimit,
			Burst:             cfg.Discord.Burst,
		})
		g.Go(func() error {
			return bot.Run(ctx, cfg.Discord.Token)
		})
	}

	logging.Boot("serving %d commands from %s (prefix %q)",
		len(a.locked.Commands()), cfg.Commands.Dir, a.locked.Prefix())
	err = g.Wait()
	logging.Boot("stopped")
	return err
}
