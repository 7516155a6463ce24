package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ultragitlab/ultragitlab/internal/companionauth"
	"github.com/ultragitlab/ultragitlab/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-run setup",
	Long: `Walks through adding a GitLab instance (URL, token) and optionally
enabling the LAN companion server with a fresh PIN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("setup is interactive and needs a terminal; use `ultragitlab instance import --file` for scripted setup")
		}

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		var (
			url             string
			token           string
			name            string
			enableCompanion bool
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("GitLab instance URL").
					Placeholder("https://gitlab.example.com").
					Value(&url).
					Validate(func(s string) error {
						if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
							return fmt.Errorf("must start with http:// or https://")
						}
						return nil
					}),
				huh.NewInput().
					Title("Display name").
					Placeholder("work").
					Value(&name),
				huh.NewInput().
					Title("Personal access token (api scope)").
					EchoMode(huh.EchoModePassword).
					Value(&token),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Enable the LAN companion server?").
					Description("Lets your phone review MRs over your local network, PIN-protected.").
					Value(&enableCompanion),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		inst, err := addInstance(ctx, env, url, name, token)
		if err != nil {
			return err
		}
		fmt.Printf("Added instance %d: %s\n", inst.ID, inst.URL)

		if enableCompanion {
			pin, err := companionauth.RandomPIN()
			if err != nil {
				return err
			}
			err = env.settings.Update(func(s *config.Settings) {
				s.CompanionServer.Enabled = true
				s.CompanionServer.PIN = pin
			})
			if err != nil {
				return err
			}
			port := env.settings.Settings().CompanionServer.Port
			fmt.Printf("Companion server enabled on port %d. PIN: %s\n", port, pin)
			fmt.Println(dimStyle.Render("Start it with `ultragitlab serve`; pair a device via `ultragitlab companion qr`."))
		}

		fmt.Println("Setup complete. Run `ultragitlab sync` to fetch your merge requests.")
		return nil
	},
}
