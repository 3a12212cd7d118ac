package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newRootCmd builds the ext2paged command tree, grounded on
// operator-framework-operator-registry's cmd/opm/root.NewCmd: a bare root
// command carrying only global flags, with real work living in
// subcommands.
func newRootCmd() *cobra.Command {
	var (
		mainConfigFile     string
		fallbackConfigFile string
		logLevel           string
	)

	root := &cobra.Command{
		Use:           "ext2paged",
		Short:         "ext2 external pager daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&mainConfigFile, "config", "/etc/ext2paged/ext2paged.conf", "main configuration file")
	root.PersistentFlags().StringVar(&fallbackConfigFile, "fallback-config", "/var/lib/ext2paged/ext2paged.conf", "fallback configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(&mainConfigFile, &fallbackConfigFile, &logLevel))
	root.AddCommand(newStatsCmd(&mainConfigFile, &fallbackConfigFile))
	return root
}

func applyLogLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Warnf("ignoring unparseable log level %q", level)
		return
	}
	logrus.SetLevel(lvl)
}
