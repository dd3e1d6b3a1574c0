package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/aggregator"
	"github.com/logmesh/logmesh/internal/cache"
	"github.com/logmesh/logmesh/internal/config"
	"github.com/logmesh/logmesh/internal/discovery"
	"github.com/logmesh/logmesh/internal/model"
	"github.com/logmesh/logmesh/internal/output"
	"github.com/logmesh/logmesh/internal/parser"
	"github.com/logmesh/logmesh/internal/registry"
)

var (
	queryUsers   []string
	queryAliases []string
	queryLevels  []string
	queryDate    string
	queryLimit   int
	queryOffset  int
	queryGroupBy string
	querySortBy  string
	queryOrder   string
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run one aggregation query and print the result",
	Long: `Aggregate log entries across registered aliases for a calendar date.

Examples:
  logmesh query --alias MyLogs --date 2025-09-01 --level ERROR
  logmesh query --user alice --group-by level --json`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringSliceVar(&queryUsers, "user", nil, "user IDs (default: all)")
	queryCmd.Flags().StringSliceVar(&queryAliases, "alias", nil, "alias names (default: all per user)")
	queryCmd.Flags().StringSliceVar(&queryLevels, "level", nil, "levels to keep (debug,info,warning,error,critical)")
	queryCmd.Flags().StringVar(&queryDate, "date", "", "target date YYYY-MM-DD (default: today)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "page size")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "page offset")
	queryCmd.Flags().StringVar(&queryGroupBy, "group-by", "", "group by user|alias|level|file|hour|date")
	queryCmd.Flags().StringVar(&querySortBy, "sort-by", "", "sort by timestamp|user|alias|severity|file")
	queryCmd.Flags().StringVar(&queryOrder, "order", "", "sort order asc|desc")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit JSON instead of colorized text")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	log := zap.NewNop()
	if verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("open alias registry: %w", err)
	}

	query := model.AggregationQuery{
		UserIDs:    queryUsers,
		AliasNames: queryAliases,
		Date:       queryDate,
		Limit:      queryLimit,
		Offset:     queryOffset,
		GroupBy:    queryGroupBy,
		SortBy:     querySortBy,
		SortOrder:  queryOrder,
	}
	for _, l := range queryLevels {
		query.LogLevels = append(query.LogLevels, model.ParseLevel(strings.TrimSpace(l)))
	}

	cls, err := buildClassifier(cfg, log)
	if err != nil {
		return err
	}

	agg := aggregator.New(reg, discovery.New(log), parser.New(), cls, cache.New(cfg.CacheTTL), aggregator.Options{
		WorkerLimit:  cfg.WorkerLimit,
		AliasTimeout: cfg.AliasTimeout,
	}, log)

	result, err := agg.Aggregate(cmd.Context(), query)
	if err != nil {
		return err
	}

	var renderer output.Renderer
	if queryJSON {
		renderer = output.NewJSONRenderer()
	} else {
		renderer = output.NewTextRenderer()
	}
	return renderer.Render(result)
}
