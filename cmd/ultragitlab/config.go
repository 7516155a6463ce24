package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(context.Background())
		if err != nil {
			return err
		}
		defer env.close()
		fmt.Println(env.settings.Path())
		return nil
	},
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a sample .ultra-gitlab.yaml override file",
	Long: `Prints a project-level override file. Place it as .ultra-gitlab.yaml in a
repository (or any parent directory) to override individual settings there;
ULTRAGITLAB_* environment variables override both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		example, err := config.ExampleOverrideYAML()
		if err != nil {
			return err
		}
		fmt.Print(example)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configExampleCmd)
	rootCmd.AddCommand(configCmd)
}
