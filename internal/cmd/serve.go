package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/aggregator"
	"github.com/logmesh/logmesh/internal/broadcast"
	"github.com/logmesh/logmesh/internal/cache"
	"github.com/logmesh/logmesh/internal/classifier"
	"github.com/logmesh/logmesh/internal/config"
	"github.com/logmesh/logmesh/internal/discovery"
	"github.com/logmesh/logmesh/internal/parser"
	"github.com/logmesh/logmesh/internal/registry"
	"github.com/logmesh/logmesh/internal/server"
	"github.com/logmesh/logmesh/internal/watcher"
)

var watchAll bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aggregation API, watcher, and live event stream",
	Long: `Start the HTTP API and the directory watcher. Watches can be started per
alias over the API; --watch-all starts one for every registered alias at
boot.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&watchAll, "watch-all", false, "watch every registered alias at startup")
	serveCmd.Flags().String("port", "", "http listen port")
	_ = viper.BindPFlag("http.port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("open alias registry: %w", err)
	}

	cls, err := buildClassifier(cfg, log)
	if err != nil {
		return err
	}

	p := parser.New()
	disc := discovery.New(log)
	rc := cache.New(cfg.CacheTTL)
	agg := aggregator.New(reg, disc, p, cls, rc, aggregator.Options{
		WorkerLimit:  cfg.WorkerLimit,
		AliasTimeout: cfg.AliasTimeout,
	}, log)

	hub := broadcast.NewHub(log)
	defer hub.Close()

	reproc := aggregator.NewReprocessor(p, cls, rc, log)
	w := watcher.New(watcher.Config{
		Mode:               cfg.WatchMode,
		PollInterval:       cfg.PollInterval,
		StabilityThreshold: cfg.StabilityThreshold,
		DebounceQuiet:      cfg.DebounceQuiet,
		MaxRetries:         cfg.MaxRetries,
		RetryBackoff:       cfg.RetryBackoff,
	}, hub, reproc, log)
	defer w.Stop()

	if watchAll {
		for _, user := range reg.Users() {
			for _, alias := range reg.AliasesForUser(user) {
				target := watcher.Target{
					UserID:    alias.UserID,
					AliasName: alias.AliasName,
					BasePath:  alias.BasePath,
				}
				if err := w.Watch(target); err != nil {
					log.Warn("could not watch alias",
						zap.String("alias", target.UserID+"/"+target.AliasName),
						zap.Error(err))
				}
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		w.Stop()
		hub.Close()
		os.Exit(0)
	}()

	srv := server.New(agg, reg, disc, w, hub, rc, cfg.HTTPPort, log)
	return srv.Start()
}

func buildClassifier(cfg config.Config, log *zap.Logger) (*classifier.Classifier, error) {
	if cfg.RulesPath == "" {
		return classifier.New(log), nil
	}
	rules, solutions, err := classifier.LoadRuleFile(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load classifier rules: %w", err)
	}
	return classifier.NewWithRules(rules, solutions, log)
}
