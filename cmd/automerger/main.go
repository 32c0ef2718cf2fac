package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/navikt/automerge-dependabot-sub000/internal/automerge"
	"github.com/navikt/automerge-dependabot-sub000/internal/cfg"
	"github.com/navikt/automerge-dependabot-sub000/internal/githubclt"
	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

const appName = "automerger"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	DryRun      *bool
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/automerger/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the automerger configuration file",
		),
		DryRun: pflag.BoolP(
			"dry-run",
			"n",
			false,
			"simulate merge and approve operations instead of doing them",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMerge eligible dependabot pull requests.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()

	ec.LevelKey = "loglevel"
	ec.TimeKey = config.LogTimeKey
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder

	return ec
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(zapEncoderConfig(config)),
		os.Stdout,
		logLevel),
	)
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig = zapEncoderConfig(config)
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.Encoding = config.LogFormat
	zapCfg.Level = zap.NewAtomicLevelAt(logLevel)

	result, err := zapCfg.Build()
	exitOnErr("could not initialize logger", err)

	return result
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func startMetricsServer(listenAddr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 5 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn(
				"shutting down metrics server failed",
				logfields.Event("metrics_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			"metrics server started",
			logfields.Event("metrics_server_started"),
			zap.String("listen_addr", listenAddr),
		)

		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return
		}

		logger.Warn(
			"metrics server terminated unexpectedly",
			logfields.Event("metrics_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// reportSkipped logs the recorded reasons of every pull request that was
// excluded from the merge set.
func reportSkipped(ledger *automerge.Ledger) {
	for _, nr := range ledger.PRNumbers() {
		for _, entry := range ledger.Reasons(nr) {
			logger.Info(
				"pull request was not merged",
				logfields.Event("pr_skipped"),
				logfields.PullRequest(nr),
				logfields.Dependency(entry.Dependency),
				logfields.Reason(entry.Reason),
			)
		}
	}
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	token, err := config.ResolveToken()
	if err != nil {
		logger.Fatal(
			"could not resolve github API token",
			logfields.Event("cfg_token_unresolvable"),
			zap.Error(err),
		)
	}

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("repository_owner", config.RepositoryOwner),
		zap.String("repository", config.Repository),
		zap.String("github_api_token", hide(token)),
		zap.Int("minimum_age_days", config.MinimumAgeDays),
		zap.String("blackout_periods", config.BlackoutPeriods),
		zap.Strings("ignored_dependencies", config.IgnoredDependencyList()),
		zap.Strings("always_allow", config.AlwaysAllow),
		zap.Strings("always_allow_labels", config.AlwaysAllowLabels),
		zap.Strings("ignored_versions", config.IgnoredVersions),
		zap.Strings("semver_filter", config.SemverFilter),
		zap.String("merge_method", config.MergeMethod),
		zap.Bool("auto_approve", config.AutoApprove),
		zap.Bool("dry_run", *args.DryRun),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	if config.MetricsListenAddr != "" {
		startMetricsServer(config.MetricsListenAddr)
	}

	var ghClient automerge.GithubClient = githubclt.New(token)
	if *args.DryRun {
		ghClient = automerge.NewDryClient(ghClient, logger)
	}

	policy := automerge.NewPolicy(
		config.IgnoredDependencyList(),
		config.AlwaysAllow,
		config.AlwaysAllowLabels,
		config.IgnoredVersions,
		config.SemverFilter,
	)

	merger := automerge.NewAutomerger(ghClient, automerge.Config{
		Owner:           config.RepositoryOwner,
		Repo:            config.Repository,
		MinimumAge:      time.Duration(config.MinimumAgeDays) * 24 * time.Hour,
		RetryDelay:      time.Duration(config.RetryDelayMs) * time.Millisecond,
		MergeDelay:      time.Duration(config.MergeDelayMs) * time.Millisecond,
		MergeMethod:     config.MergeMethod,
		AutoApprove:     config.AutoApprove,
		BlackoutPeriods: config.BlackoutPeriods,
		Policy:          policy,
	})

	result, err := merger.Run(context.Background())
	if err != nil {
		logger.Error(
			"run failed",
			logfields.Event("run_failed"),
			zap.Error(err),
		)

		goodbye.Exit(context.Background(), 1)
		return
	}

	if result.Skipped {
		goodbye.Exit(context.Background(), 0)
		return
	}

	reportSkipped(merger.Ledger())

	goodbye.Exit(context.Background(), 0)
}
