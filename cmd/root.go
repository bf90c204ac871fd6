package cmd

import (
	"context"
	"fmt"
	"github.com/RedRozio/moris-slave/morisslave"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = morisslave.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "moris-slave [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", morisslave.DefaultDatabase)
	viper.SetDefault("database_type", morisslave.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		morisslave.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		morisslave.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", morisslave.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", morisslave.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", morisslave.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.log_level",
		morisslave.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		morisslave.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		morisslave.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		morisslave.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		morisslave.DefaultDiscordCustomStatus,
	)

	// Subject config
	viper.SetDefault(
		"subjects.category_name",
		morisslave.DefaultSubjectCategoryName,
	)
	viper.SetDefault(
		"subjects.helper_role_suffix",
		morisslave.DefaultHelperRoleSuffix,
	)
	viper.SetDefault(
		"subjects.select_timeout",
		morisslave.DefaultHelperSelectTimeout,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", morisslave.DefaultAPIListen)
	viper.SetDefault("api.log_level", morisslave.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", morisslave.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		morisslave.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", morisslave.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", morisslave.DefaultIdleTimeout)

	envPrefix := os.Getenv(morisslave.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = morisslave.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
