//nolint:lll // struct tags can't be split
package morisslave

import (
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "MORISSLAVE_ENV_PREFIX"
	DefaultEnvPrefix   = "MORIS"

	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "morisslave.sqlite3"

	DefaultLogLevel          = slog.LevelInfo
	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	// DefaultSubjectCategoryName is the name of the channel category that
	// groups all subject forum channels.
	DefaultSubjectCategoryName = "Subjects"

	// DefaultHelperRoleSuffix is appended to the lowercased subject name
	// to form the helper role name (e.g. "biology-helper").
	DefaultHelperRoleSuffix = "-helper"

	// DefaultHelperSelectTimeout bounds how long /become-helper waits for
	// the requester to pick a role from the select menu.
	DefaultHelperSelectTimeout = 10 * time.Second

	DiscordSlashCommandCreateSubject = "create-subject"
	DiscordSlashCommandBecomeHelper  = "become-helper"
	DiscordSlashCommandWhipSlaves    = "whip-slaves"

	subjectCommandNameOption  = "name"
	subjectCommandColorOption = "color"
	subjectCommandEmojiOption = "emoji"

	DefaultDiscordErrorMessage     = "sorry, something went wrong!"
	DefaultDiscordCustomStatus     = "/become-helper to help out!"
	DefaultDiscordStartupMessage   = "I'm here!"
	DefaultWhipRefusalMessage      = "This doesn't look like a subject thread to me."
	DefaultHelperTimeoutMessage    = "You didn't pick a subject in time - no role assigned."
	DefaultHelperNoRolesMessage    = "There are no helper roles yet. Ask a moderator to /create-subject one!"
	DefaultDiscordGatewayIntent    = discordgo.IntentsAllWithoutPrivileged
	discordMaxSelectOptions        = 25
	discordComponentCustomIDLength = 25

	DefaultAPIListen         = "127.0.0.1:5000"
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
)

// Config is the top-level bot configuration. It's constructed explicitly
// (see cmd/) and passed in - no package-level config state.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Subjects configures the subject/helper-role conventions
	Subjects *SubjectConfig `yaml:"subjects" mapstructure:"subjects" json:"subjects"`

	// API configures the read-only status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID is the guild the bot manages. Slash commands are registered
	// against this guild, and all channel/role operations target it.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If NotificationChannelID is set, the bot sends this message to that
	// channel whenever it connects to the discord gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// NotificationChannelID is the channel used for startup notifications
	// and public helper-enrollment announcements.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// CustomStatus is set as the bot user's status on connect
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// SubjectConfig configures the naming conventions used when provisioning
// subject channels and helper roles.
//
//nolint:lll // can't break tags
type SubjectConfig struct {
	// CategoryName is the name of the singleton category channel grouping
	// all subject forum channels. It's created lazily on first use.
	CategoryName string `yaml:"category_name" mapstructure:"category_name" json:"category_name" binding:"required"`

	// HelperRoleSuffix is appended to the lowercased subject name to form
	// the helper role name.
	HelperRoleSuffix string `yaml:"helper_role_suffix" mapstructure:"helper_role_suffix" json:"helper_role_suffix" binding:"required"`

	// SelectTimeout bounds how long /become-helper waits for the requester
	// to make a selection before giving up.
	SelectTimeout time.Duration `yaml:"select_timeout" mapstructure:"select_timeout" json:"select_timeout" binding:"min=1s"`
}

// APIConfig configures the read-only status API server
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled determines whether the status API is served at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,min=1s"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Subjects: &SubjectConfig{
			CategoryName:     DefaultSubjectCategoryName,
			HelperRoleSuffix: DefaultHelperRoleSuffix,
			SelectTimeout:    DefaultHelperSelectTimeout,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
