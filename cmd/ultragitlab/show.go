package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/model"
)

var showCmd = &cobra.Command{
	Use:   "show <mr-id>",
	Short: "Show a cached merge request's details and description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mrID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("mr-id must be an integer, got %q", args[0])
		}

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		reader := cacheread.New(env.db)
		mr, err := reader.GetMergeRequest(ctx, mrID)
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("!%d %s", mr.IID, mr.Title)))
		fmt.Printf("%s  %s → %s  by %s\n", mr.ProjectName, mr.SourceBranch, mr.TargetBranch, mr.AuthorUsername)
		fmt.Printf("state: %s  approval: %s  updated: %s\n", mr.State, renderApproval(mr), relTime(mr.UpdatedAt))
		if mr.PipelineStatus != nil {
			fmt.Printf("pipeline: %s\n", *mr.PipelineStatus)
		}
		fmt.Println(dimStyle.Render(mr.WebURL))

		if mr.Description != "" {
			renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
			if err == nil {
				if out, err := renderer.Render(mr.Description); err == nil {
					fmt.Println(out)
				} else {
					fmt.Println("\n" + mr.Description)
				}
			} else {
				fmt.Println("\n" + mr.Description)
			}
		}

		if diff, err := reader.GetDiff(ctx, mr.ID); err == nil {
			fmt.Printf("diff: %d files, %s %s\n",
				diff.FileCount,
				okStyle.Render(fmt.Sprintf("+%d", diff.Additions)),
				errStyle.Render(fmt.Sprintf("-%d", diff.Deletions)))
		}

		comments, err := reader.ListComments(ctx, mr.ID)
		if err == nil && len(comments) > 0 {
			human := 0
			for _, c := range comments {
				if !c.System {
					human++
				}
			}
			fmt.Printf("comments: %d", human)
			if unresolved := countUnresolved(comments); unresolved > 0 {
				fmt.Printf("  (%s)", warnStyle.Render(fmt.Sprintf("%d unresolved threads", unresolved)))
			}
			fmt.Println()
		}
		return nil
	},
}

// countUnresolved counts distinct discussion threads that have at least one
// resolvable note still unresolved.
func countUnresolved(comments []*model.Comment) int {
	seen := make(map[string]bool)
	n := 0
	for _, c := range comments {
		if !c.Resolvable || c.Resolved || c.DiscussionID == nil || seen[*c.DiscussionID] {
			continue
		}
		seen[*c.DiscussionID] = true
		n++
	}
	return n
}
