// Command meshprobe resolves the reachable instances of services registered
// in a catalog, lists catalog names by prefix, fetches a catalog key into a
// file, or serves the same resolution over HTTP.
//
//	meshprobe --names orders-svc@eu1,users-svc@eu1
//	meshprobe --prefix orders,users
//	meshprobe --kv-key certs/ca.pem --kv-dir /etc/meshprobe --kv-file ca.pem
//	meshprobe --serve --config ./config.yml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/kbukum/meshprobe/bootstrap"
	"github.com/kbukum/meshprobe/config"
	_ "github.com/kbukum/meshprobe/discovery/consul"
	_ "github.com/kbukum/meshprobe/discovery/etcd"
	_ "github.com/kbukum/meshprobe/discovery/redis"
	_ "github.com/kbukum/meshprobe/discovery/static"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/resolver"
	"github.com/kbukum/meshprobe/server"
)

const (
	serviceName = "meshprobe"

	// envTagSuffix is read once at startup when the config sets no suffix.
	envTagSuffix = "SERVICE_TAG_SUFFIX"
)

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "meshprobe:", err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	envFile    string
	names      []string
	prefixes   []string
	kvKey      string
	kvDir      string
	kvFile     string
	serve      bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVarP(&o.configFile, "config", "c", "", "config file (YAML)")
	fs.StringVar(&o.envFile, "env-file", "", ".env file")
	fs.StringSliceVarP(&o.names, "names", "n", nil, "composite service names to resolve")
	fs.StringSliceVarP(&o.prefixes, "prefix", "p", nil, "list catalog names starting with these prefixes")
	fs.StringVar(&o.kvKey, "kv-key", "", "catalog key to fetch")
	fs.StringVar(&o.kvDir, "kv-dir", ".", "directory for --kv-key output")
	fs.StringVar(&o.kvFile, "kv-file", "", "file name for --kv-key output")
	fs.BoolVar(&o.serve, "serve", false, "serve /alive over HTTP until interrupted")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.kvKey != "" && o.kvFile == "" {
		return o, fmt.Errorf("--kv-file is required with --kv-key")
	}
	return o, nil
}

func loadConfig(o options) (*resolver.Config, error) {
	var cfg resolver.Config
	err := config.LoadConfig(serviceName, &cfg,
		config.WithConfigFile(o.configFile),
		config.WithEnvFile(o.envFile),
		config.WithDefaults(map[string]any{"logging.output": "stderr"}),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Discovery.TagSuffix == "" {
		cfg.Discovery.TagSuffix = os.Getenv(envTagSuffix)
	}
	if o.serve {
		cfg.Server.Enabled = true
	}
	return &cfg, nil
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}

	tel, err := observability.Setup(ctx, cfg.Telemetry, cfg.TelemetryService())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	app.OnStop(tel.Shutdown)

	rc := resolver.NewComponent(*cfg, app.Logger, resolver.WithProbeMetrics(tel.Metrics))
	if err := app.RegisterComponent(rc); err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, app.Logger)
		srv.RegisterEndpoints(cfg.Name, rc, rc.HealthAll)
		if err := app.RegisterComponent(srv); err != nil {
			return err
		}
		return app.Run(ctx)
	}

	return app.RunTask(ctx, func(ctx context.Context) error {
		switch {
		case o.kvKey != "":
			path, err := rc.Catalog().WriteKeyToFile(ctx, rc.Agents(), o.kvKey, o.kvDir, o.kvFile)
			if err != nil {
				return err
			}
			return writeJSON(stdout, map[string]string{"key": o.kvKey, "path": path})
		case len(o.prefixes) > 0:
			hosts, err := rc.Catalog().QueryByNamePrefixes(ctx, rc.Agents(), o.prefixes)
			if err != nil {
				return err
			}
			return writeJSON(stdout, hosts)
		case len(o.names) > 0:
			alive, err := rc.ResolveAlive(ctx, o.names)
			if err != nil {
				return err
			}
			defer func() {
				if err := alive.Close(); err != nil {
					app.Logger.Warn("closing handles failed", logger.ErrorFields("close", err))
				}
			}()
			return writeJSON(stdout, alive.Membership())
		default:
			return fmt.Errorf("nothing to do: pass --names, --prefix, --kv-key or --serve")
		}
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
