package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

var flagLogSince string

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sync operations",
	Long: `Prints the bounded sync log (most recent 50 operations). --since accepts
natural language, e.g. --since "3 days ago" or --since "yesterday".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		var since int64
		if flagLogSince != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			result, err := w.Parse(flagLogSince, time.Now())
			if err != nil || result == nil {
				return fmt.Errorf("could not parse --since %q", flagLogSince)
			}
			since = result.Time.Unix()
		}

		entries, err := cacheread.New(env.db).ListSyncLog(ctx, 0)
		if err != nil {
			return err
		}

		shown := 0
		for _, e := range entries {
			if since > 0 && e.Timestamp < since {
				continue
			}
			printLogEntry(e)
			shown++
		}
		if shown == 0 {
			fmt.Println(dimStyle.Render("no sync operations recorded"))
		}
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&flagLogSince, "since", "", `only show entries after this time (natural language accepted)`)
}

func printLogEntry(e *model.SyncLog) {
	marker := okStyle.Render("ok ")
	if e.IsError() {
		marker = errStyle.Render("err")
	}
	line := fmt.Sprintf("%s  %s  %s", marker, time.Unix(e.Timestamp, 0).Format("2006-01-02 15:04:05"), e.Operation)
	if e.DurationMs != nil {
		line += dimStyle.Render(fmt.Sprintf("  (%dms)", *e.DurationMs))
	}
	fmt.Println(line)
	if e.Message != nil && *e.Message != "" {
		fmt.Println(dimStyle.Render("      " + *e.Message))
	}
}
