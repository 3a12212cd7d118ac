package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newStatsCmd prints a one-shot snapshot of a registry's pager stats.
//
// There is no RPC demultiplexer in this system's scope (spec §1), so this
// command cannot reach across into an already-running serve process; it
// builds its own registry against the same configured device, which only
// reports a meaningful non-zero pager_users/max_user_pager_prot when run
// embedded in the same process as live mappings (tests, demos). Against
// a device with no in-process callers it will, correctly, report zero
// users — the daemon process itself logs these same numbers on an
// interval (see serve.go).
func newStatsCmd(mainConfigFile, fallbackConfigFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print a one-shot pager stats snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())
			cfg, err := loadConfig(*mainConfigFile, *fallbackConfigFile, "")
			if err != nil {
				return err
			}

			reg, dev, err := buildRegistry(cfg, log)
			if err != nil {
				return err
			}
			defer dev.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PAGER_USERS\tMAX_USER_PAGER_PROT\tBUCKET_COUNT")
			fmt.Fprintf(w, "%d\t%v\t%d\n", reg.PagerUsers(), reg.MaxUserPagerProt(), reg.BucketCount())
			return w.Flush()
		},
	}
}
