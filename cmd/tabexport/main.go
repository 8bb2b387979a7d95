// Command tabexport renders form submissions into downloadable files and
// serves the export endpoints over HTTP.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bjaus/tabexport"
	"github.com/bjaus/tabexport/config"
)

// Set by the linker.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

// app carries the state shared by every subcommand after the root's
// PersistentPreRunE has run.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	log    *logrus.Entry
	closer io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tabexport",
		Short: "Export form submissions as CSV, Excel, JSON, XML, HTML or PDF",
		Long: `tabexport renders tabular form submissions into downloadable files.

It runs an HTTP server exposing synchronous and asynchronous exports, or
converts a dataset file from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newServeCmd(a),
		newExportCmd(a),
		newFormatsCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger, closer, err := newLogger(cfg.Log, a.verbose, stderr)
	if err != nil {
		return err
	}
	a.log = logrus.NewEntry(logger)
	a.closer = closer
	return nil
}

// registry builds the encoders enabled in the configuration.
func (a *app) registry() *tabexport.Registry {
	var r tabexport.PDFRenderer = tabexport.RichPDFRenderer{Creator: a.cfg.Export.SiteName}
	if a.cfg.PDF.Renderer == config.RendererHTML {
		r = tabexport.HTMLFallbackRenderer{}
	}
	return tabexport.NewDefaultRegistry(a.cfg.Export, r)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "tabexport %s\nGit Commit: %s\nBuild Time: %s\n", version, gitCommit, buildTime)
			return err
		},
	}
}
