package admintools

import (
	"context"
	"fmt"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/forumdata"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/metaquery"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/perf"
	"git.handmade.network/hmn/forumdb/src/utils"
	"github.com/jpillora/backoff"
	"github.com/spf13/cobra"
)

// Runs f against a fresh store and logs the operation's timing afterward.
func runMaintenance(name string, f func(ctx context.Context, store *forumdata.Store) error) (err error) {
	defer utils.RecoverPanicAsError(&err)

	ctx, store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	op := perf.MakeNewOperationPerf(name)
	ctx = perf.AttachPerf(ctx, op)
	defer func() {
		op.EndOperation()
		op.Log(logging.GlobalLogger())
	}()

	return f(ctx, store)
}

func init() {
	forumctl.Command.AddCommand(&cobra.Command{
		Use:   "rebuildsearch",
		Short: "Regenerate the search table from the messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance("rebuildsearch", func(ctx context.Context, store *forumdata.Store) error {
				n := store.RebuildSearchData(ctx)
				fmt.Printf("Indexed %d messages\n", n)
				return nil
			})
		},
	})

	forumctl.Command.AddCommand(&cobra.Command{
		Use:   "rebuildposts",
		Short: "Recount every user's approved posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance("rebuildposts", func(ctx context.Context, store *forumdata.Store) error {
				n := store.RebuildUserPosts(ctx)
				fmt.Printf("Updated %d users\n", n)
				return nil
			})
		},
	})

	forumctl.Command.AddCommand(&cobra.Command{
		Use:   "refreshstats [forum id]",
		Short: "Recount forum statistics, for one forum or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance("refreshstats", func(ctx context.Context, store *forumdata.Store) error {
				if len(args) == 0 {
					n := store.RecomputeAllForumStats(ctx)
					fmt.Printf("Refreshed %d forums\n", n)
					return nil
				}

				var forumID int
				if _, err := fmt.Sscan(args[0], &forumID); err != nil {
					return oops.New(err, "bad forum id %q", args[0])
				}
				if _, err := store.GetForum(ctx, forumID); err != nil {
					return err
				}
				store.RecomputeForumStats(ctx, forumID, forumdata.StatsUpdate{Refresh: true})
				fmt.Printf("Refreshed forum %d\n", forumID)
				return nil
			})
		},
	})

	var purgeLive bool
	purgeFilesCommand := &cobra.Command{
		Use:   "purgefiles",
		Short: "Find editor uploads that never made it into a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance("purgefiles", func(ctx context.Context, store *forumdata.Store) error {
				stale := store.PurgeStaleFiles(ctx, purgeLive)
				for _, f := range stale {
					fmt.Printf("%6d  %-40s %10d bytes  %s\n", f.ID, f.Filename, f.Filesize, f.AddedAt.Format(time.RFC3339))
				}
				if purgeLive {
					fmt.Printf("Deleted %d files\n", len(stale))
				} else {
					fmt.Printf("%d stale files; run with --live to delete them\n", len(stale))
				}
				return nil
			})
		},
	}
	purgeFilesCommand.Flags().BoolVar(&purgeLive, "live", false, "Actually delete the files")
	forumctl.Command.AddCommand(purgeFilesCommand)

	var pruneDays, pruneForum int
	var pruneByActivity bool
	pruneCommand := &cobra.Command{
		Use:   "prune",
		Short: "Delete threads older than a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pruneDays <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			return runMaintenance("prune", func(ctx context.Context, store *forumdata.Store) error {
				mode := forumdata.PruneByDatestamp
				if pruneByActivity {
					mode = forumdata.PruneByModifystamp
				}
				before := time.Now().AddDate(0, 0, -pruneDays)
				n := store.PruneOldThreads(ctx, before, pruneForum, mode)
				fmt.Printf("Deleted %d messages\n", n)
				return nil
			})
		},
	}
	pruneCommand.Flags().IntVar(&pruneDays, "days", 0, "Age cutoff in days")
	pruneCommand.Flags().IntVar(&pruneForum, "forum", 0, "Only prune this forum")
	pruneCommand.Flags().BoolVar(&pruneByActivity, "by-activity", false, "Use the last activity in a thread instead of its creation time")
	forumctl.Command.AddCommand(pruneCommand)

	var metaqueryText string
	metaqueryCommand := &cobra.Command{
		Use:   "metaquery <condition | AND | OR | ( | )>...",
		Short: "List messages matching a metaquery filter",
		Long: `List messages matching a metaquery filter. Each argument is one token, e.g.

  forumctl metaquery "message.subject = *QUERY*" AND "thread.closed = 0" --query spam`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := make([]metaquery.Token, 0, len(args))
			for _, arg := range args {
				token, err := metaquery.ParseToken(arg, metaqueryText)
				if err != nil {
					return err
				}
				tokens = append(tokens, token)
			}

			return runMaintenance("metaquery", func(ctx context.Context, store *forumdata.Store) error {
				matches, err := store.MetaquerySearchMessages(ctx, tokens)
				if err != nil {
					return err
				}
				for _, m := range matches {
					fmt.Printf("%8d  forum %-4d thread %-8d %-20s %s\n", m.MessageID, m.ForumID, m.Thread, m.Author, m.Subject)
				}
				fmt.Printf("%d matches\n", len(matches))
				return nil
			})
		},
	}
	metaqueryCommand.Flags().StringVar(&metaqueryText, "query", "", "Text substituted for QUERY in conditions")
	forumctl.Command.AddCommand(metaqueryCommand)

	var waitTimeout time.Duration
	waitForDBCommand := &cobra.Command{
		Use:   "waitfordb",
		Short: "Wait until the database accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()
			return WaitForDB(ctx, config.Config.Postgres)
		},
	}
	waitForDBCommand.Flags().DurationVar(&waitTimeout, "timeout", time.Minute, "Give up after this long")
	forumctl.Command.AddCommand(waitForDBCommand)
}

// Retries connecting with exponential backoff until it works or ctx ends.
func WaitForDB(ctx context.Context, cfg config.PostgresConfig) error {
	boff := backoff.Backoff{
		Min: 200 * time.Millisecond,
		Max: 5 * time.Second,
	}

	for {
		conn, err := db.Connect(ctx, cfg)
		if err == nil {
			conn.Close(ctx)
			logging.Info().Msg("Database is up")
			return nil
		}

		dur := boff.Duration()
		logging.Warn().Err(err).Dur("retrying after", dur).Msg("database not ready")

		timer := time.NewTimer(dur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return oops.New(ctx.Err(), "gave up waiting for the database")
		case <-timer.C:
		}
	}
}
