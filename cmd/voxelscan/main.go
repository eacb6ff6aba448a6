// Command voxelscan scans a world region through the GDMC block API, stores
// the labelled volume, renders it, and pastes copies back into the world.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelscan/internal/config"
	"voxelscan/internal/gdmc"
	"voxelscan/internal/logging"
	"voxelscan/internal/palette"
	"voxelscan/internal/persistence/volumefile"
)

// app holds what every subcommand shares: the merged configuration and the
// root logger.
type app struct {
	cfgPath string
	verbose bool
	logFile string
	apiURL  string
	profile string
	dataDir string

	// profileSet is true when --profile was given on the command line.
	profileSet bool

	cfg      config.Config
	log      *zap.Logger
	closeLog func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "voxelscan",
		Short: "Scan, store, render and replay voxel regions over the GDMC HTTP API",
		Long: `voxelscan reads a region of a running world through GET /blocks, reduces
every block to a small integer label, and stores the label volume. Stored
volumes can be rendered, browsed in a local viewer, exported to NumPy,
Sponge schematic or VTK, and pasted into another region with PUT /blocks.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeLog != nil {
				a.closeLog()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", config.DefaultPath, "configuration file (missing is fine unless set explicitly)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this rotated file")
	pf.StringVar(&a.apiURL, "api", "", "GDMC API base URL (default "+gdmc.DefaultBaseURL+")")
	pf.StringVar(&a.profile, "profile", "", "label profile: built-in name or YAML path")
	pf.StringVar(&a.dataDir, "data-dir", "", "directory for volumes, journals and the run index")

	root.AddCommand(
		a.scanCmd(),
		a.pasteCmd(),
		a.frameCmd(),
		a.retryCmd(),
		a.renderCmd(),
		a.viewCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.inspectCmd(),
		a.runsCmd(),
		a.profilesCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger. Flags win over the environment, which wins over the file.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	var (
		cfg config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(a.cfgPath)
	} else {
		cfg, err = config.LoadOptional(a.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("api") {
		cfg.API.BaseURL = a.apiURL
	}
	if flags.Changed("profile") {
		cfg.Profile = a.profile
		a.profileSet = true
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = a.dataDir
	}
	if flags.Changed("log-file") {
		cfg.Log.File = a.logFile
	}
	a.cfg = cfg

	logger, closeLog, err := logging.New(logging.Options{
		Verbose:    a.verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.log = logger
	a.closeLog = closeLog
	return nil
}

func (a *app) client() (*gdmc.Client, error) {
	return gdmc.New(a.cfg.API.BaseURL,
		gdmc.WithTimeouts(a.cfg.API.ReadTimeout, a.cfg.API.WriteTimeout),
		gdmc.WithLogger(a.log.Named("gdmc")),
	)
}

func (a *app) loadProfile() (*palette.Profile, error) {
	p, err := palette.Resolve(a.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return p, nil
}

// volumeProfile picks the profile for a stored volume: --profile when given,
// else the one recorded in its header, else the configured one.
func (a *app) volumeProfile(h volumefile.Header) (*palette.Profile, error) {
	if !a.profileSet && h.Profile != "" {
		p, err := palette.Resolve(h.Profile)
		if err == nil {
			return p, nil
		}
		a.log.Warn("recorded profile unavailable, using configured one",
			zap.String("recorded", h.Profile), zap.Error(err))
	}
	return a.loadProfile()
}

func stdout(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
