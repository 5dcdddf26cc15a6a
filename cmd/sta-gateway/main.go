package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spatialworks/sta-provider/internal/core/config"
	"github.com/spatialworks/sta-provider/internal/core/httpclient"
	"github.com/spatialworks/sta-provider/internal/core/model"
	"github.com/spatialworks/sta-provider/internal/core/observability"
	"github.com/spatialworks/sta-provider/internal/core/router"
	"github.com/spatialworks/sta-provider/internal/core/server"
	"github.com/spatialworks/sta-provider/internal/logger"
	"github.com/spatialworks/sta-provider/internal/sta"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sta-gateway",
	Short: "Feature gateway for OGC SensorThings API services",
	Long: `sta-gateway serves OGC API Features style collection endpoints backed
by remote SensorThings API (STA) services. Collections are defined in a
YAML file; each maps to one STA entity set on one upstream service.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.FromEnv()
		if p, _ := cmd.Flags().GetString("collections"); p != "" {
			cfg.CollectionsPath = strings.TrimSpace(p)
		}

		zl := logger.Build(logger.Config{
			Level:     cfg.LogLevel,
			Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
			Component: "gateway",
		}, os.Stdout)
		appLog := logger.NewSlog(&zl)

		observability.ExposeBuildInfo(Version)

		defs, err := config.LoadCollections(cfg.CollectionsPath)
		if err != nil {
			appLog.Error("collections setup failed", "err", err)
			return err
		}

		client := httpclient.NewOutbound(cfg.RequestTimeout)
		reg := router.NewRegistry()
		providers := map[string]*sta.Provider{}
		for _, def := range defs {
			p, err := sta.New(sta.Definition{
				Name:      def.Name,
				Data:      def.Data,
				Entity:    def.Entity,
				TimeField: def.TimeField,
				Expand:    def.Expand,
			}, client, appLog)
			if err != nil {
				appLog.Error("provider setup failed", "collection", def.Name, "err", err)
				return err
			}
			reg.Add(def.Name, p)
			providers[def.Name] = p
		}

		appLog.Info("starting gateway",
			"addr", cfg.Addr,
			"version", Version,
			"collections", len(defs))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := server.Run(ctx, cfg, appLog, reg, proberMap(providers)); err != nil {
			appLog.Error("server exited with error", "err", err)
			return err
		}
		appLog.Info("server stopped")
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a one-shot collection query and print the result as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		data, _ := flags.GetString("data")
		entity, _ := flags.GetString("entity")
		timefield, _ := flags.GetString("timefield")
		expand, _ := flags.GetString("expand")

		p, err := sta.New(sta.Definition{
			Name:      "cli",
			Data:      data,
			Entity:    entity,
			TimeField: timefield,
			Expand:    expand,
		}, httpclient.NewOutbound(0), nil)
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		if id, _ := flags.GetString("id"); id != "" {
			rec, err := p.Get(ctx, "", id)
			if err != nil {
				return err
			}
			return printJSON(rec)
		}

		q := model.QueryParams{ResultType: model.ResultTypeResults}
		q.Limit, _ = flags.GetInt("limit")
		q.StartIndex, _ = flags.GetInt("offset")
		q.Datetime, _ = flags.GetString("datetime")
		if hits, _ := flags.GetBool("hits"); hits {
			q.ResultType = model.ResultTypeHits
		}
		if raw, _ := flags.GetString("bbox"); raw != "" {
			bb, err := parseBBoxFlag(raw)
			if err != nil {
				return err
			}
			q.BBox = bb
		}
		if raw, _ := flags.GetString("sortby"); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				order := "+"
				if part[0] == '+' || part[0] == '-' {
					order = string(part[0])
					part = part[1:]
				}
				q.SortBy = append(q.SortBy, model.SortCriterion{Property: part, Order: order})
			}
		}
		filters, _ := flags.GetStringArray("filter")
		for _, f := range filters {
			name, value, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("invalid --filter %q, want name=value", f)
			}
			q.Properties = append(q.Properties, model.PropertyFilter{Name: name, Value: value})
		}

		fs, err := p.Query(ctx, q)
		if err != nil {
			return err
		}
		if q.ResultType == model.ResultTypeHits {
			return printJSON(map[string]any{"numberMatched": fs.NumberMatched})
		}
		return printJSON(fs.Records)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseBBoxFlag(raw string) (*model.BBox, error) {
	var bb model.BBox
	n, err := fmt.Sscanf(raw, "%f,%f,%f,%f", &bb.MinX, &bb.MinY, &bb.MaxX, &bb.MaxY)
	if err != nil || n != 4 {
		return nil, fmt.Errorf("invalid bbox %q, want minx,miny,maxx,maxy", raw)
	}
	return &bb, nil
}

// proberMap adapts the provider set to the readiness endpoint.
type proberMap map[string]*sta.Provider

func (m proberMap) Probe(ctx context.Context) map[string]error {
	out := make(map[string]error, len(m))
	for name, p := range m {
		out[name] = p.Ping(ctx)
	}
	return out
}

func init() {
	serveCmd.Flags().String("collections", "", "path to the collections file (overrides COLLECTIONS_PATH)")

	queryCmd.Flags().String("data", "", "STA base URL (required)")
	queryCmd.Flags().String("entity", "", "collection entity, e.g. Things (required)")
	queryCmd.Flags().String("timefield", "", "property used for temporal filtering")
	queryCmd.Flags().String("expand", "", "related entities to expand")
	queryCmd.Flags().String("id", "", "fetch a single record by identifier")
	queryCmd.Flags().Int("limit", 10, "maximum records to return")
	queryCmd.Flags().Int("offset", 0, "starting record offset")
	queryCmd.Flags().String("bbox", "", "bounding box minx,miny,maxx,maxy")
	queryCmd.Flags().String("datetime", "", "instant or start/end range, .. for an open bound")
	queryCmd.Flags().String("sortby", "", "comma list of [+|-]property")
	queryCmd.Flags().StringArray("filter", nil, "equality filter name=value (repeatable)")
	queryCmd.Flags().Bool("hits", false, "return only the matched count")
	_ = queryCmd.MarkFlagRequired("data")
	_ = queryCmd.MarkFlagRequired("entity")

	rootCmd.AddCommand(serveCmd, queryCmd)
}
