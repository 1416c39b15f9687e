package cfg

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	DefLogFormat       = "logfmt"
	DefLogTimeKey      = "time_iso8601"
	DefLogLevel        = "info"
	DefFilePath        = "file.txt"
	DefBaseBranch      = "main"
	DefNewBranch       = "new-branch"
	DefContent         = "New content"
	DefChangeDetection = "git-blob"
)

type Config struct {
	GithubAPIToken        string      `toml:"github_api_token"`
	GithubAPIURL          string      `toml:"github_api_url"`
	GithubGraphQLURL      string      `toml:"github_graphql_url"`
	LogFormat             string      `toml:"log_format"`
	LogTimeKey            string      `toml:"log_time_key"`
	LogLevel              string      `toml:"log_level"`
	DryRun                bool        `toml:"dry_run"`
	RetryTimeout          string      `toml:"retry_timeout"`
	MetricsPushgatewayURL string      `toml:"metrics_pushgateway_url"`
	Sync                  Sync        `toml:"sync"`
	PullRequest           PullRequest `toml:"pull_request"`
	Trigger               Trigger     `toml:"trigger"`
}

type Sync struct {
	Owner          string `toml:"owner"`
	RepositoryName string `toml:"repository"`
	FilePath       string `toml:"file_path"`
	// BaseBranch is nil when the key is absent, an empty string selects
	// the default branch of the repository.
	BaseBranch *string `toml:"base_branch"`
	NewBranch  string  `toml:"new_branch"`
	// Content is nil when the key is absent, an empty string is a valid
	// file content.
	Content         *string `toml:"content"`
	ContentFile     string  `toml:"content_file"`
	ContentTemplate bool    `toml:"content_template"`
	CommitMessage   string  `toml:"commit_message"`
	ChangeDetection string  `toml:"change_detection"`
}

type PullRequest struct {
	Title string `toml:"title"`
	Body  string `toml:"body"`
}

type Trigger struct {
	FilterQuery string `toml:"filter_query"`
}

// Default returns a Config with all default values set.
func Default() *Config {
	var result Config
	result.applyDefaults()

	return &result
}

// Load reads a TOML configuration, unset fields are set to their default
// values.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.applyDefaults()

	return &result, nil
}

// applyDefaults sets unset fields to their default values.
func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.Sync.FilePath == "" {
		c.Sync.FilePath = DefFilePath
	}

	if c.Sync.BaseBranch == nil {
		base := DefBaseBranch
		c.Sync.BaseBranch = &base
	}

	if c.Sync.NewBranch == "" {
		c.Sync.NewBranch = DefNewBranch
	}

	if c.Sync.Content == nil && c.Sync.ContentFile == "" {
		content := DefContent
		c.Sync.Content = &content
	}

	if c.Sync.ChangeDetection == "" {
		c.Sync.ChangeDetection = DefChangeDetection
	}
}

// RetryTimeoutDuration returns the parsed RetryTimeout, 0 when it is unset.
func (c *Config) RetryTimeoutDuration() (time.Duration, error) {
	if c.RetryTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.RetryTimeout)
	if err != nil {
		return 0, fmt.Errorf("retry_timeout: %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("retry_timeout: must not be negative, is %s", d)
	}

	return d, nil
}

// Validate checks that the configuration is complete and consistent.
// Fields of the sync section that are validated when the job is created,
// like branch names, are not checked.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "logfmt", "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q, supported values: logfmt, console, json", c.LogFormat)
	}

	if _, err := c.RetryTimeoutDuration(); err != nil {
		return err
	}

	if c.GithubAPIURL == "" && c.GithubGraphQLURL != "" {
		return errors.New("github_api_url must be set when github_graphql_url is set")
	}

	if c.Sync.Owner == "" {
		return errors.New("sync.owner is empty")
	}

	if c.Sync.RepositoryName == "" {
		return errors.New("sync.repository is empty")
	}

	if c.Sync.Content != nil && c.Sync.ContentFile != "" {
		return errors.New("sync.content and sync.content_file are mutually exclusive")
	}

	return nil
}

// BaseBranchName returns the configured base branch, an empty string means the
// default branch of the repository.
func (s *Sync) BaseBranchName() string {
	if s.BaseBranch == nil {
		return ""
	}

	return *s.BaseBranch
}
