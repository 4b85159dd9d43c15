package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/scangate/internal/appsec"
	"github.com/CZERTAINLY/scangate/internal/log"
	"github.com/CZERTAINLY/scangate/internal/model"
	"github.com/CZERTAINLY/scangate/internal/report"
)

const configName = "scangate.yaml"

var (
	userConfigPath string // /default/config/path/scangate on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = os.TempDir()
	}
	userConfigPath = filepath.Join(d, "scangate")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, report.ErrVulnerabilitiesFound) {
			slog.Error("build failed", "reason", err.Error())
		} else {
			slog.Error("scangate failed", "err", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "scangate",
		Short:        "Runs a dynamic application security scan as a build step",
		SilenceUsage: true,
		// never print messages
		SilenceErrors: true,
		// parse or create a config, setup logging
		PersistentPreRunE: initScangate,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(regionsCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "regions lists the supported regions and their API endpoints",
	Run: func(cmd *cobra.Command, _ []string) {
		for _, r := range appsec.Regions() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s\n", r.Code, r.URL)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a scangate",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(w, "scangate: version info not available")
			return
		}

		if configPath != "" {
			fmt.Fprintf(w, "config:   %s\n", configPath)
		}
		fmt.Fprintf(w, "scangate: %s\n", info.Main.Version)
		fmt.Fprintf(w, "go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(w, "commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(w, "date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(w, "dirty:    %s\n", s.Value)
			}
		}
		fmt.Fprintln(w)
	},
}

func initScangate(cmd *cobra.Command, _ []string) error {
	configPath = ""
	if envConfig, ok := os.LookupEnv("SCANGATECONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	v := model.NewViper()
	if configPath == "" {
		if err := storeDefaultConfig(); err != nil {
			// read-only home directories are common on CI runners
			slog.Warn("default configuration not stored", "error", err)
		}
	} else {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	var err error
	config, err = model.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Log.Format, config.Verbose))

	slog.Debug("scangate run", "configPath", configPath)
	return nil
}

func storeDefaultConfig() error {
	path := filepath.Join(userConfigPath, configName)
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(model.DefaultConfig()); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	configPath = path
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
