package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func init() {
	// Honor NO_COLOR and non-TTY pipes for every styled command.
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached merge requests and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		reader := cacheread.New(env.db)
		q := queue.New(env.db)

		instances, err := reader.ListInstances(ctx)
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			fmt.Println("No instances configured. Run `ultragitlab setup` first.")
			return nil
		}

		for _, inst := range instances {
			fmt.Println(headerStyle.Render(fmt.Sprintf("%s (%s)", inst.Name, inst.URL)))
			if inst.AuthenticatedUsername != "" {
				fmt.Printf("  signed in as %s\n", inst.AuthenticatedUsername)
			} else if !inst.HasToken {
				fmt.Println(warnStyle.Render("  no token stored"))
			}

			id := inst.ID
			mrs, err := reader.ListMergeRequests(ctx, cacheread.ListFilter{InstanceID: &id})
			if err != nil {
				return err
			}
			if len(mrs) == 0 {
				fmt.Println(dimStyle.Render("  no cached merge requests"))
				continue
			}
			for _, mr := range mrs {
				fmt.Printf("  !%d %s %s\n", mr.IID, renderApproval(mr), mr.Title)
				fmt.Println(dimStyle.Render(fmt.Sprintf("      %s  %s → %s  updated %s",
					mr.ProjectName, mr.SourceBranch, mr.TargetBranch, relTime(mr.UpdatedAt))))
			}
		}

		counts, err := q.Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		line := fmt.Sprintf("Queue: %d pending, %d failed", counts.Pending, counts.Failed)
		switch {
		case counts.Failed > 0:
			fmt.Println(errStyle.Render(line))
		case counts.Pending > 0:
			fmt.Println(warnStyle.Render(line))
		default:
			fmt.Println(okStyle.Render(line))
		}
		return nil
	},
}

func renderApproval(mr *model.MergeRequest) string {
	if mr.ApprovalStatus == nil {
		return dimStyle.Render("·")
	}
	switch *mr.ApprovalStatus {
	case model.ApprovalApproved:
		return okStyle.Render("✓")
	case model.ApprovalChangesRequested:
		return errStyle.Render("✗")
	default:
		if mr.ApprovalsRequired != nil && mr.ApprovalsCount != nil {
			return warnStyle.Render(fmt.Sprintf("%d/%d", *mr.ApprovalsCount, *mr.ApprovalsRequired))
		}
		return warnStyle.Render("…")
	}
}

func relTime(unixSecs int64) string {
	if unixSecs == 0 {
		return "never"
	}
	d := time.Since(time.Unix(unixSecs, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
