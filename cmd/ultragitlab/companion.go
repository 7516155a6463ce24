package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/companionauth"
	"github.com/ultragitlab/ultragitlab/internal/config"
)

var companionCmd = &cobra.Command{
	Use:   "companion",
	Short: "Manage the LAN companion server",
}

var companionPinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Regenerate the companion PIN",
	Long: `Mints a fresh 6-digit PIN and clears every paired device and session.
A running server picks the change up through the settings watcher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		pin, err := companionauth.RandomPIN()
		if err != nil {
			return err
		}
		err = env.settings.Update(func(s *config.Settings) {
			s.CompanionServer.PIN = pin
			s.CompanionServer.AuthorizedDevices = nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("New companion PIN: %s\n", pin)
		fmt.Println(dimStyle.Render("All previously paired devices were signed out."))
		return nil
	},
}

var companionQRCmd = &cobra.Command{
	Use:   "qr",
	Short: "Print the pairing QR code as SVG",
	Long: `Writes an SVG QR code to stdout encoding the companion pairing URL with
the PIN pre-filled. Pipe it to a file and open it, or scan it straight
from a terminal that renders images.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		cfg := env.settings.Settings().CompanionServer
		if cfg.PIN == "" {
			return fmt.Errorf("no companion PIN configured; run `ultragitlab companion pin` first")
		}

		url := companionauth.PairingURL(companionauth.LANIP(), cfg.Port, cfg.PIN)
		svg, err := companionauth.QRSVG(url)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(svg)
		return err
	},
}

var companionDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired companion devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		devices := env.settings.Settings().CompanionServer.AuthorizedDevices
		if len(devices) == 0 {
			fmt.Println("No paired devices.")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%s  %s  paired %s  last active %s\n",
				d.DeviceID, d.Name, relTime(d.CreatedAt), relTime(d.LastActive))
		}
		return nil
	},
}

var companionRevokeCmd = &cobra.Command{
	Use:   "revoke <device-id>",
	Short: "Revoke a paired device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		deviceID := args[0]
		found := false
		err = env.settings.Update(func(s *config.Settings) {
			devices := s.CompanionServer.AuthorizedDevices[:0]
			for _, d := range s.CompanionServer.AuthorizedDevices {
				if d.DeviceID == deviceID {
					found = true
					continue
				}
				devices = append(devices, d)
			}
			s.CompanionServer.AuthorizedDevices = devices
		})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no device with id %s", deviceID)
		}
		fmt.Printf("Revoked device %s.\n", deviceID)
		fmt.Println(dimStyle.Render("A running server drops its session when it reloads settings."))
		return nil
	},
}

func init() {
	companionCmd.AddCommand(companionPinCmd)
	companionCmd.AddCommand(companionQRCmd)
	companionCmd.AddCommand(companionDevicesCmd)
	companionCmd.AddCommand(companionRevokeCmd)
}
