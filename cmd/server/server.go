// Command server runs the matching core's TCP front door: it loads a
// market configuration, dials the vault and oracle collaborators,
// starts the funding settlement timer, and serves the wire protocol
// (and a Prometheus /metrics endpoint) until signalled to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"perpmatch/internal/config"
	"perpmatch/internal/market"
	"perpmatch/internal/marketadapter"
	"perpmatch/internal/wire"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the market config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	vaultClient, err := marketadapter.DialVault(cfg.Vault.Address)
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.Vault.Address).Msg("unable to dial vault")
	}
	defer vaultClient.Close()

	oracleClient, err := marketadapter.DialOracle(cfg.Oracle.Address)
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.Oracle.Address).Msg("unable to dial oracle")
	}
	defer oracleClient.Close()

	m := market.Init(
		market.MarketDetails{
			BaseAsset:   cfg.Market.BaseAsset,
			QuoteAsset:  cfg.Market.QuoteAsset,
			TickSpacing: cfg.Market.TickSpacing,
		},
		market.StateDetails{
			NotPaused:      cfg.State.NotPaused,
			MaxLeverageX10: cfg.State.MaxLeverageX10,
			MinCollateral:  cfg.State.MinCollateral,
		},
		vaultClient,
		oracleClient,
	)
	m.StartFundingTimer(ctx, cfg.Funding.SettlementPeriod)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address)
	}

	// The vault's own dial address is the only caller trusted to issue
	// admin operations (state updates, funding control, error-log
	// acknowledgement): there is no separate admin principal model in a
	// standalone binary, so the collaborator the market was configured
	// to trust at startup plays that role.
	trusted := func(clientAddress string) bool {
		return clientAddress == cfg.Vault.Address
	}

	srv := wire.New(cfg.Listen.Address, cfg.Listen.Port, m, trusted)
	srv.Run(ctx)
}

func serveMetrics(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("address", address).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(address, mux); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics endpoint exited")
	}
}
