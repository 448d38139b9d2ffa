// kepler-inspect replays a commit log offline and prints what it finds.
// It is a forensic tool: with --keep-going it uses the Warn replay behavior,
// which skips unreplayable records instead of refusing to reconstruct,
// something the live datastore never does.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/keplerdb/kepler/config"
	"github.com/keplerdb/kepler/store/commitlog"
	"github.com/keplerdb/kepler/store/datastore"
	"github.com/keplerdb/kepler/store/types"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
)

var (
	dataDir   string
	fromOff   uint64
	keepGoing bool
	logLevel  string
)

func main() {
	cmd := &cobra.Command{
		Use:          "kepler-inspect",
		Short:        "Replay a kepler commit log and summarize the reconstructed state",
		RunE:         run,
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding the commit log")
	cmd.Flags().Uint64Var(&fromOff, "from", 0, "checkpointed transaction offset to start from")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "log and skip unreplayable records instead of failing")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	cmd.MarkFlagRequired("data-dir")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logCfg := &log.Config{Level: logLevel}
	lg, props, err := log.InitLogger(logCfg)
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, props)

	conf := config.NewDefaultConfig()
	conf.DataDir = dataDir
	if err := conf.Validate(); err != nil {
		return err
	}
	l, err := commitlog.Open(conf.DataDir, &conf.Log)
	if err != nil {
		return err
	}
	defer l.Close()

	behavior := datastore.FailFast
	if keepGoing {
		behavior = datastore.Warn
	}
	store, err := datastore.Open(uuid.Nil, conf.BlobThreshold, l, fromOff, behavior)
	if err != nil {
		return err
	}

	tx := store.Begin()
	defer tx.Release()
	fmt.Printf("next tx offset: %d\n", store.NextTxOffset())
	it, err := tx.Iter(datastore.StTableID)
	if err != nil {
		return err
	}
	for it.Next() {
		tid := types.TableID(it.Row()[0].AsU64())
		schema, err := tx.SchemaForTable(tid)
		if err != nil {
			return err
		}
		n, err := tx.RowCount(tid)
		if err != nil {
			return err
		}
		fmt.Printf("%-8d %-32s %8d rows  %d indexes  %d sequences\n",
			uint64(tid), schema.Name, n, len(schema.Indexes), len(schema.Sequences))
	}
	return nil
}
