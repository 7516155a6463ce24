package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/cachewrite"
	"github.com/ultragitlab/ultragitlab/internal/config"
	"github.com/ultragitlab/ultragitlab/internal/credential"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage configured GitLab instances",
}

var instanceAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		token, _ := cmd.Flags().GetString("token")

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		inst, err := addInstance(ctx, env, args[0], name, token)
		if err != nil {
			return err
		}
		fmt.Printf("Added instance %d: %s\n", inst.ID, inst.URL)
		return nil
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		instances, err := cachewrite.New(env.db).ListInstances(ctx)
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			fmt.Println("No instances configured.")
			return nil
		}
		for _, in := range instances {
			tokenState := warnStyle.Render("no token")
			if in.HasToken {
				tokenState = okStyle.Render("token stored")
			}
			fmt.Printf("%d  %s  %s  %s\n", in.ID, in.Name, in.URL, tokenState)
		}
		return nil
	},
}

var instanceRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an instance and all its cached data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("id must be an integer, got %q", args[0])
		}

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		writer := cachewrite.New(env.db)
		inst, err := writer.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		if err := writer.DeleteInstance(ctx, id); err != nil {
			return err
		}
		if err := env.creds.Delete(ctx, credential.ServiceName, credential.Normalize(inst.URL)); err != nil {
			return err
		}
		fmt.Printf("Removed instance %d (%s) and its cached data.\n", id, inst.URL)
		return nil
	},
}

var instanceImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import instances from a TOML seed file",
	Long: `Reads a TOML file with [[instances]] entries (url, name, token) and adds
each one, for scripted or CI setup where the interactive wizard is
unavailable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return fmt.Errorf("--file is required")
		}
		seed, err := config.ParseSeedFile(path)
		if err != nil {
			return err
		}

		ctx := context.Background()
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		for _, in := range seed.Instances {
			inst, err := addInstance(ctx, env, in.URL, in.Name, in.Token)
			if err != nil {
				return fmt.Errorf("import %s: %w", in.URL, err)
			}
			fmt.Printf("Imported instance %d: %s\n", inst.ID, inst.URL)
		}
		return nil
	},
}

func init() {
	instanceAddCmd.Flags().String("name", "", "display name (defaults to the URL)")
	instanceAddCmd.Flags().String("token", "", "personal access token (validated and stored)")
	instanceImportCmd.Flags().String("file", "", "path to a TOML seed file")

	instanceCmd.AddCommand(instanceAddCmd)
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceRmCmd)
	instanceCmd.AddCommand(instanceImportCmd)
}

// addInstance creates the instance row and, when a token is given,
// validates it against /user before storing it in the credential store.
func addInstance(ctx context.Context, env *appEnv, url, name, token string) (inst *instanceRef, err error) {
	if name == "" {
		name = url
	}

	writer := cachewrite.New(env.db)
	created, err := writer.CreateInstance(ctx, url, name)
	if err != nil {
		return nil, err
	}
	ref := &instanceRef{ID: created.ID, URL: created.URL}

	if token == "" {
		return ref, nil
	}

	client := remoteapi.New(remoteapi.Config{BaseURL: created.URL, Token: token})
	user, err := client.ValidateToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if err := env.creds.Set(ctx, credential.ServiceName, credential.Normalize(created.URL), token); err != nil {
		return nil, err
	}
	if err := writer.SetHasToken(ctx, created.ID, true); err != nil {
		return nil, err
	}
	if err := writer.SetAuthenticatedUsername(ctx, created.ID, user.Username); err != nil {
		return nil, err
	}
	return ref, nil
}

type instanceRef struct {
	ID  int64
	URL string
}
