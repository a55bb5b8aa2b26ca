// Package main provides the entry point for the voicebooth CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/voicebooth/internal/config"
	"github.com/dgnsrekt/voicebooth/internal/flow"
	"github.com/dgnsrekt/voicebooth/internal/lifecycle"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	rootCmd = &cobra.Command{
		Use:   "voicebooth",
		Short: "Record voice takes and audition them from the terminal",
		Long: paragraph(
			fmt.Sprintf("\nRecord one %s per prompt, redo any of them and play them back, one clip at a time.", keyword("take")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordCmd.RunE(cmd, args)
		},
	}

	// cfg is set by loadConfig before any command runs.
	cfg *config.Config
)

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.LoadFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

// openFlow builds a flow from the loaded config and registers it for
// shutdown on SIGINT/SIGTERM.
func openFlow() (*flow.Flow, *lifecycle.Manager, error) {
	f, err := flow.FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	lm := lifecycle.NewManager()
	lm.Register(f)
	lm.Start()
	return f, lm, nil
}

func closeFlow(f *flow.Flow, lm *lifecycle.Manager) {
	if err := lm.Shutdown(); err != nil {
		log.Error("Shutdown failed", "error", err)
	}
	_ = f.Dispose(context.Background())
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().String("backend", "", "audio backend: auto, hardware or mock")
	rootCmd.PersistentFlags().Duration("settle-delay", 0, "pause after switching from recording to playback")
	rootCmd.PersistentFlags().String("catalog", "", "directory with sample clips")
	rootCmd.PersistentFlags().String("prompts", "", "file with one prompt per line")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Config bindings
	_ = viper.BindPFlag("audio.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("device.settle_delay", rootCmd.PersistentFlags().Lookup("settle-delay"))
	_ = viper.BindPFlag("catalog.dir", rootCmd.PersistentFlags().Lookup("catalog"))
	_ = viper.BindPFlag("takes.prompts_file", rootCmd.PersistentFlags().Lookup("prompts"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(recordCmd, auditionCmd, devicesCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "voicebooth")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "voicebooth")}, dirs...)
	}

	if c := os.Getenv("VOICEBOOTH_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("voicebooth")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("voicebooth")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "voicebooth.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
