package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/contentsync/internal/cfg"
	"github.com/simplesurance/contentsync/internal/contentsync"
	"github.com/simplesurance/contentsync/internal/ghactions"
	"github.com/simplesurance/contentsync/internal/githubclt"
	"github.com/simplesurance/contentsync/internal/logfields"
)

const appName = "contentsync"

const (
	tokenInputName      = "my-token"
	branchNameInputName = "branch-name"
)

const (
	outputTime           = "time"
	outputResult         = "result"
	outputPullRequestURL = "pull_request_url"
)

const outputTimeFormat = "15:04:05 GMT-0700 (MST)"

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
			"panic caught , terminating gracefully",
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
	ShowVersion *bool
	DryRun      *bool
	ContentFile *string
}

var args arguments

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
			"",
			"path to the contentsync configuration file, if unset defaults and environment variables are used",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"read from GitHub but only simulate creating branches, files and pull requests",
		),
		ContentFile: pflag.String(
			"content-file",
			"",
			"read the desired file content from this file instead of the configuration",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nSync a file in a GitHub repository via a pull request.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	if *args.ConfigFile == "" {
		return cfg.Default()
	}

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

// applyEnvironment sets configuration values that are unset in the
// configuration file from the GitHub Actions environment and applies the
// command line flags.
func applyEnvironment(config *cfg.Config, env *ghactions.Env) error {
	if config.GithubAPIToken == "" {
		config.GithubAPIToken = env.Token(tokenInputName)
	}

	if config.Sync.Owner == "" && config.Sync.RepositoryName == "" {
		owner, repo, err := env.Repository()
		if err != nil {
			return err
		}

		config.Sync.Owner = owner
		config.Sync.RepositoryName = repo
	}

	if branch := env.Input(branchNameInputName); branch != "" {
		config.Sync.NewBranch = branch
	}

	if *args.DryRun {
		config.DryRun = true
	}

	if *args.ContentFile != "" {
		config.Sync.ContentFile = *args.ContentFile
		config.Sync.Content = nil
	}

	return nil
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
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

func pushMetrics(url string) {
	if url == "" {
		return
	}

	err := push.New(url, appName).Gatherer(prometheus.DefaultGatherer).Push()
	if err != nil {
		logger.Warn(
			"pushing metrics failed",
			logfields.Event("metrics_push_failed"),
			zap.String("metrics_pushgateway_url", url),
			zap.Error(err),
		)
		return
	}

	logger.Debug(
		"metrics pushed",
		logfields.Event("metrics_pushed"),
		zap.String("metrics_pushgateway_url", url),
	)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// fail reports err as error annotation and terminates the process.
func fail(env *ghactions.Env, msg string, err error) {
	env.Error(fmt.Sprintf("%s: %s", msg, err))

	if logger != nil {
		logger.Error(msg, logfields.Event("run_failed"), zap.Error(err))
	}

	goodbye.Exit(context.Background(), 1)
}

func mustNewGithubClient(config *cfg.Config, env *ghactions.Env) contentsync.GithubClient {
	var clt contentsync.GithubClient

	if config.GithubAPIToken == "" {
		fail(env, "no github api token available", errors.New("github_api_token, the my-token input and GITHUB_TOKEN are unset"))
	}

	if config.GithubAPIURL == "" {
		clt = githubclt.New(config.GithubAPIToken)
	} else {
		var err error

		clt, err = githubclt.NewEnterprise(config.GithubAPIToken, config.GithubAPIURL, config.GithubGraphQLURL)
		if err != nil {
			fail(env, "creating github client failed", err)
		}
	}

	if config.DryRun {
		logger.Info("dry run enabled, no changes are done on github", logfields.Event("dry_run_enabled"))
		return contentsync.NewDryGithubClient(clt, logger)
	}

	return clt
}

func mustNewJob(config *cfg.Config, env *ghactions.Env) *contentsync.Job {
	var content []byte
	if config.Sync.Content != nil {
		content = []byte(*config.Sync.Content)
	}

	if config.Sync.ContentFile != "" {
		var err error

		content, err = env.ReadFile(config.Sync.ContentFile)
		if err != nil {
			fail(env, "reading content file failed", err)
		}
	}

	changeDetection, err := contentsync.ParseChangeDetection(config.Sync.ChangeDetection)
	if err != nil {
		fail(env, "invalid configuration", err)
	}

	opts := []contentsync.JobOption{contentsync.WithChangeDetection(changeDetection)}

	if config.Sync.ContentTemplate {
		opts = append(opts, contentsync.WithContentTemplate())
	}

	if config.Sync.CommitMessage != "" {
		opts = append(opts, contentsync.WithCommitMessage(config.Sync.CommitMessage))
	}

	if config.PullRequest.Title != "" || config.PullRequest.Body != "" {
		title := config.PullRequest.Title
		if title == "" {
			title = contentsync.DefPullRequestTitle
		}

		opts = append(opts, contentsync.WithPullRequest(title, config.PullRequest.Body))
	}

	job, err := contentsync.NewJob(
		contentsync.Repository{
			Owner: config.Sync.Owner,
			Name:  config.Sync.RepositoryName,
		},
		config.Sync.FilePath,
		config.Sync.BaseBranchName(),
		config.Sync.NewBranch,
		content,
		opts...,
	)
	if err != nil {
		fail(env, "invalid sync configuration", err)
	}

	return job
}

func setOutput(env *ghactions.Env, name, value string) {
	if err := env.SetOutput(name, value); err != nil {
		logger.Warn(
			"setting step output failed",
			logfields.Event("setting_output_failed"),
			zap.String("output", name),
			zap.Error(err),
		)
	}
}

func setTimeOutput(env *ghactions.Env) {
	setOutput(env, outputTime, time.Now().Format(outputTimeFormat))
}

func main() {
	defer panicHandler()

	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0)
	}

	env := ghactions.New()

	config := mustParseCfg()
	if err := applyEnvironment(config, env); err != nil {
		fail(env, "reading github actions environment failed", err)
	}

	if err := config.Validate(); err != nil {
		fail(env, "invalid configuration", err)
	}

	mustInitLogger(config)

	retryTimeout, _ := config.RetryTimeoutDuration() // validated before

	logger.Info(
		"loaded cfg",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("github_api_url", config.GithubAPIURL),
		zap.String("github_graphql_url", config.GithubGraphQLURL),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Bool("dry_run", config.DryRun),
		zap.Duration("retry_timeout", retryTimeout),
		zap.String("metrics_pushgateway_url", config.MetricsPushgatewayURL),
	)

	goodbye.Register(func(context.Context, os.Signal) {
		pushMetrics(config.MetricsPushgatewayURL)
	})

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		if sig != nil {
			logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		}
		cancelFn()
	})

	clt := mustNewGithubClient(config, env)
	job := mustNewJob(config, env)

	logger.Debug(
		"sync job created",
		logfields.Event("job_created"),
		zap.String("job", job.DetailedString()),
	)

	trigger, err := contentsync.NewTrigger(config.Trigger.FilterQuery)
	if err != nil {
		fail(env, "invalid trigger configuration", err)
	}

	event, err := env.Event()
	if err != nil {
		fail(env, "reading ci event failed", err)
	}

	match, err := trigger.Match(ctx, event.JSON)
	if err != nil {
		fail(env, "evaluating trigger failed", err)
	}

	if match != contentsync.Match {
		logger.Info(
			"event does not match trigger, skipping sync",
			append(
				event.LogFields(),
				logfields.Event("sync_skipped"),
				zap.String("trigger", trigger.String()),
			)...,
		)

		contentsync.RecordSkipped(&job.Repository)
		setOutput(env, outputResult, string(contentsync.StatusSkipped))
		goodbye.Exit(ctx, 0)
	}

	retryer := contentsync.NewRetryer(retryTimeout)
	goodbye.Register(func(context.Context, os.Signal) {
		retryer.Stop()
	})

	publisher := contentsync.NewPublisher(clt, retryer)

	result, err := publisher.Sync(ctx, job)
	if err != nil {
		setTimeOutput(env)
		fail(env, "syncing file failed", err)
	}

	setOutput(env, outputResult, string(result.Status))
	if result.PullRequest != nil {
		setOutput(env, outputPullRequestURL, result.PullRequest.URL)
	}
	setTimeOutput(env)

	goodbye.Exit(ctx, 0)
}
