package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/credential"
	"github.com/ultragitlab/ultragitlab/internal/filecache"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
)

var flagCatVersion string

var catCmd = &cobra.Command{
	Use:   "cat <mr-id> <file-path>",
	Short: "Print a file's content at the MR's base or head",
	Long: `Prints the file as it exists on the merge request's base or head commit.
Content is served from the local blob cache when available; a miss fetches
it upstream and caches it for the next read.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mrID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("mr-id must be an integer, got %q", args[0])
		}
		version := filecache.Version(flagCatVersion)

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
		inst, err := reader.GetInstance(ctx, mr.InstanceID)
		if err != nil {
			return err
		}
		token, err := env.creds.Get(ctx, credential.ServiceName, credential.Normalize(inst.URL))
		if err != nil {
			return err
		}

		client := remoteapi.New(remoteapi.Config{BaseURL: inst.URL, Token: token})
		content, err := filecache.New(env.db).GetFileContent(ctx, client, mrID, args[1], version)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(content)
		return err
	},
}

func init() {
	catCmd.Flags().StringVar(&flagCatVersion, "version", "head", "which side to print: base or head")
	rootCmd.AddCommand(catCmd)
}
