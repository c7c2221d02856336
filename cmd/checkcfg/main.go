package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/config"
	"github.com/WangyangYe0512/Control-Simple/internal/ft"
	"github.com/WangyangYe0512/Control-Simple/internal/logging"
)

// checkcfg validates the config document and the bootstrap basket
// without starting the bot. With -probe it also pings both venues.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	basketPath := flag.String("basket", "internal/config/watchlist.yaml", "path to the bootstrap basket file")
	probe := flag.Bool("probe", false, "also call /status on both venues")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	watchlist, err := config.LoadWatchlist(*basketPath)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("config: %s\n", *configPath)
	fmt.Printf("  chat_id: %d, admins: %d, require_arm: %t, arm_ttl: %dm\n",
		cfg.Telegram.ChatID, len(cfg.Telegram.Admins), cfg.Telegram.RequireArmValue(), cfg.Telegram.ArmTTLMinutes)
	fmt.Printf("  long: %s, short: %s\n", cfg.Freqtrade.Long.BaseURL, cfg.Freqtrade.Short.BaseURL)
	fmt.Printf("  stake: %.2f, poll: %ds/%ds, delay: %dms\n",
		cfg.Defaults.Stake, cfg.Defaults.PollIntervalSec, cfg.Defaults.PollTimeoutSec, cfg.Defaults.DelayMS)
	fmt.Printf("  metrics: %t (%s%s), audit: %t, auto_toggle: %t\n",
		cfg.Metrics.EnabledValue(), cfg.Metrics.Address, cfg.Metrics.Path, cfg.Audit.Enabled, cfg.AutoToggle.Enabled)
	fmt.Printf("basket: %d pairs\n", len(watchlist))
	for _, pair := range watchlist {
		fmt.Printf("  %s\n", pair)
	}

	if *probe {
		log := logging.New(cfg.Log)
		defer func() { _ = log.Sync() }()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for name, instance := range map[string]config.InstanceConfig{
			"long":  cfg.Freqtrade.Long,
			"short": cfg.Freqtrade.Short,
		} {
			client := ft.New(name, instance.BaseURL, instance.User, instance.Pass, instance.Timeout, log)
			trades, err := client.Status(ctx)
			if err != nil {
				fatal(fmt.Errorf("probe %s: %w", name, err))
			}
			fmt.Printf("probe %s: ok, %d open trades\n", name, len(trades))
		}
	}

	fmt.Println("boot ok")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
