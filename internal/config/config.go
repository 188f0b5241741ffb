// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/listfill/internal/retry"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Site     SiteConfig     `mapstructure:"site" yaml:"site"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Action   ActionConfig   `mapstructure:"action" yaml:"action"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser launched per account.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath overrides the Chrome/Chromium binary (e.g. "chromium" on Termux).
	ExecPath      string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args          []string       `mapstructure:"args" yaml:"args"`
	UserAgent     string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport      ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Locale        string         `mapstructure:"locale" yaml:"locale"`
	Timezone      string         `mapstructure:"timezone" yaml:"timezone"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes navigation behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// MaxNavigationsPerSecond throttles page loads. Zero disables throttling.
	MaxNavigationsPerSecond float64 `mapstructure:"max_navigations_per_second" yaml:"max_navigations_per_second"`
}

// SiteConfig describes the remote catalog site: where things live and how to recognize them.
type SiteConfig struct {
	BaseURL       string          `mapstructure:"base_url" yaml:"base_url"`
	LoginPath     string          `mapstructure:"login_path" yaml:"login_path"`
	ProtectedPath string          `mapstructure:"protected_path" yaml:"protected_path"`
	CatalogPath   string          `mapstructure:"catalog_path" yaml:"catalog_path"`
	AddPath       string          `mapstructure:"add_path" yaml:"add_path"`
	PageSize      int             `mapstructure:"page_size" yaml:"page_size"`
	LoginMarker   string          `mapstructure:"login_marker" yaml:"login_marker"`
	EditMarker    string          `mapstructure:"edit_marker" yaml:"edit_marker"`
	AddMarker     string          `mapstructure:"add_marker" yaml:"add_marker"`
	Selectors     SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

// SelectorsConfig holds every CSS selector the automation depends on.
type SelectorsConfig struct {
	ConsentButton  string `mapstructure:"consent_button" yaml:"consent_button"`
	UsernameInput  string `mapstructure:"username_input" yaml:"username_input"`
	PasswordInput  string `mapstructure:"password_input" yaml:"password_input"`
	LoginSubmit    string `mapstructure:"login_submit" yaml:"login_submit"`
	LoginError     string `mapstructure:"login_error" yaml:"login_error"`
	CSRFMeta       string `mapstructure:"csrf_meta" yaml:"csrf_meta"`
	CatalogRow     string `mapstructure:"catalog_row" yaml:"catalog_row"`
	RowTitle       string `mapstructure:"row_title" yaml:"row_title"`
	RowStatus      string `mapstructure:"row_status" yaml:"row_status"`
	NotInListClass string `mapstructure:"not_in_list_class" yaml:"not_in_list_class"`
	AddLabel       string `mapstructure:"add_label" yaml:"add_label"`
	DialogHeader   string `mapstructure:"dialog_header" yaml:"dialog_header"`
	SubmitButton   string `mapstructure:"submit_button" yaml:"submit_button"`
	DialogClose    string `mapstructure:"dialog_close" yaml:"dialog_close"`
}

// SessionConfig configures authentication and session snapshots.
type SessionConfig struct {
	SnapshotDir string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	// ReuseSnapshot trades freshness for one fewer login per account.
	ReuseSnapshot  bool          `mapstructure:"reuse_snapshot" yaml:"reuse_snapshot"`
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	ConsentDelay   time.Duration `mapstructure:"consent_delay" yaml:"consent_delay"`
	Navigation     retry.Policy  `mapstructure:"navigation" yaml:"navigation"`
}

// CatalogConfig configures page scanning.
type CatalogConfig struct {
	Navigation retry.Policy `mapstructure:"navigation" yaml:"navigation"`
}

// ActionConfig configures the add-action protocol.
type ActionConfig struct {
	Navigation    retry.Policy  `mapstructure:"navigation" yaml:"navigation"`
	DialogTimeout time.Duration `mapstructure:"dialog_timeout" yaml:"dialog_timeout"`
	ButtonSearch  retry.Policy  `mapstructure:"button_search" yaml:"button_search"`
	Click         retry.Policy  `mapstructure:"click" yaml:"click"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	CloseDelay    time.Duration `mapstructure:"close_delay" yaml:"close_delay"`
}

// RunConfig configures the account loop.
type RunConfig struct {
	AccountsFile       string        `mapstructure:"accounts_file" yaml:"accounts_file"`
	TaskBudget         int           `mapstructure:"task_budget" yaml:"task_budget"`
	MaxPages           int           `mapstructure:"max_pages" yaml:"max_pages"`
	AttemptsPerEntry   int           `mapstructure:"attempts_per_entry" yaml:"attempts_per_entry"`
	EntryDelay         time.Duration `mapstructure:"entry_delay" yaml:"entry_delay"`
	DiagnosticsDir     string        `mapstructure:"diagnostics_dir" yaml:"diagnostics_dir"`
	DiagnosticsPattern string        `mapstructure:"diagnostics_pattern" yaml:"diagnostics_pattern"`
	SummaryFile        string        `mapstructure:"summary_file" yaml:"summary_file"`
}

// DatabaseConfig holds the optional outcome sink connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "listfill")
	v.SetDefault("logger.log_file", "listfill.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{"--disable-gpu", "--window-size=1920,1080"})
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport.width", 1920)
	v.SetDefault("browser.viewport.height", 1080)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.max_navigations_per_second", 0)

	// -- Site --
	v.SetDefault("site.base_url", "https://myanimelist.net")
	v.SetDefault("site.login_path", "/login.php?from=%2Ftopanime.php")
	v.SetDefault("site.protected_path", "/topanime.php")
	v.SetDefault("site.catalog_path", "/topanime.php")
	v.SetDefault("site.add_path", "/ownlist/anime/add")
	v.SetDefault("site.page_size", 50)
	v.SetDefault("site.login_marker", "login.php")
	v.SetDefault("site.edit_marker", "edit")
	v.SetDefault("site.add_marker", "ownlist/anime/add")
	v.SetDefault("site.selectors.consent_button", `button[mode="primary"]`)
	v.SetDefault("site.selectors.username_input", "input#loginUserName")
	v.SetDefault("site.selectors.password_input", "input#login-password")
	v.SetDefault("site.selectors.login_submit", `input[type="submit"]`)
	v.SetDefault("site.selectors.login_error", ".badresult-text")
	v.SetDefault("site.selectors.csrf_meta", `meta[name="csrf_token"]`)
	v.SetDefault("site.selectors.catalog_row", "tr.ranking-list")
	v.SetDefault("site.selectors.row_title", "h3.anime_ranking_h3 a")
	v.SetDefault("site.selectors.row_status", "a.btn-addEdit-large.btn-anime-watch-status.js-anime-watch-status")
	v.SetDefault("site.selectors.not_in_list_class", "notinmylist")
	v.SetDefault("site.selectors.add_label", "add to list")
	v.SetDefault("site.selectors.dialog_header", "div.normal_header")
	v.SetDefault("site.selectors.submit_button", `input[class="inputButton main_submit"][value="Submit"]`)
	v.SetDefault("site.selectors.dialog_close", "a.close")

	// -- Session --
	v.SetDefault("session.snapshot_dir", "anime-cookies")
	v.SetDefault("session.reuse_snapshot", false)
	v.SetDefault("session.element_timeout", "60s")
	v.SetDefault("session.consent_delay", "2s")
	v.SetDefault("session.navigation.attempts", 3)
	v.SetDefault("session.navigation.delay", "5s")

	// -- Catalog --
	v.SetDefault("catalog.navigation.attempts", 3)
	v.SetDefault("catalog.navigation.delay", "5s")

	// -- Action --
	v.SetDefault("action.navigation.attempts", 3)
	v.SetDefault("action.navigation.delay", "5s")
	v.SetDefault("action.dialog_timeout", "60s")
	v.SetDefault("action.button_search.attempts", 5)
	v.SetDefault("action.button_search.delay", "3s")
	v.SetDefault("action.click.attempts", 3)
	v.SetDefault("action.click.delay", "2s")
	v.SetDefault("action.settle_delay", "5s")
	v.SetDefault("action.close_delay", "1s")

	// -- Run --
	v.SetDefault("run.accounts_file", "data.txt")
	v.SetDefault("run.task_budget", 300)
	v.SetDefault("run.max_pages", 6)
	v.SetDefault("run.attempts_per_entry", 2)
	v.SetDefault("run.entry_delay", "5s")
	v.SetDefault("run.diagnostics_dir", ".")
	v.SetDefault("run.diagnostics_pattern", "error-*.png")
	v.SetDefault("run.summary_file", "")

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("database.url", "LISTFILL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves '~' in the file system paths of the configuration.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.Run.AccountsFile,
		&c.Run.DiagnosticsDir,
		&c.Run.SummaryFile,
		&c.Session.SnapshotDir,
		&c.Logger.LogFile,
		&c.Browser.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not resolve path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Run.TaskBudget <= 0 {
		return errors.New("run.task_budget must be a positive integer")
	}
	if c.Run.MaxPages <= 0 {
		return errors.New("run.max_pages must be a positive integer")
	}
	if c.Run.AttemptsPerEntry < 1 || c.Run.AttemptsPerEntry > 2 {
		return errors.New("run.attempts_per_entry must be 1 or 2")
	}
	if c.Network.NavigationTimeout <= 0 {
		return errors.New("network.navigation_timeout must be a positive duration")
	}
	if c.Network.MaxNavigationsPerSecond < 0 {
		return errors.New("network.max_navigations_per_second must not be negative")
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site configuration invalid: %w", err)
	}
	policies := map[string]retry.Policy{
		"session.navigation":   c.Session.Navigation,
		"catalog.navigation":   c.Catalog.Navigation,
		"action.navigation":    c.Action.Navigation,
		"action.button_search": c.Action.ButtonSearch,
		"action.click":         c.Action.Click,
	}
	for name, p := range policies {
		if p.Attempts <= 0 {
			return fmt.Errorf("%s.attempts must be a positive integer", name)
		}
		if p.Delay < 0 {
			return fmt.Errorf("%s.delay must not be negative", name)
		}
	}
	return nil
}

// Validate checks the SiteConfig settings.
func (s *SiteConfig) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be absolute, got '%s'", s.BaseURL)
	}
	if s.PageSize <= 0 {
		return errors.New("page_size must be a positive integer")
	}
	if s.LoginMarker == "" || s.EditMarker == "" || s.AddMarker == "" {
		return errors.New("login_marker, edit_marker and add_marker are required")
	}
	return nil
}
