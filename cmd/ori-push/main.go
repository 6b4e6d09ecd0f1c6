// Command ori-push is the Pusher CLI: it walks a local archive repository's
// commit ancestry against a remote Receiver and pushes whatever the remote
// is missing. Grounded on the teacher's cmd/push.go and cmd/root.go (a
// single cobra.Command with flag-bound options, os.Exit(1) on any error),
// simplified to this protocol's flag-only client configuration
// (SPEC_FULL.md §6: "repository path, server URL, optional refspec
// allow-list" — no persistent remote registry, unlike vec's INI config).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/ostree-upload/internal/apiclient"
	"github.com/NahomAnteneh/ostree-upload/internal/backend/jsonstore"
	"github.com/NahomAnteneh/ostree-upload/internal/cli"
	"github.com/NahomAnteneh/ostree-upload/internal/pusher"
	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

var (
	serverURL string
	token     string
	refspecs  []string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ori-push <repo-path>",
	Short: "Push an archive-mode repository's refs and objects to a remote receiver",
	Long: `ori-push replicates commits from a local archive-mode object store to a
remote ori-receive server: it negotiates which branches need updating,
walks commit ancestry to find the objects the remote lacks, and uploads
them.

Examples:
  ori-push ./repo --url http://127.0.0.1:8080
  ori-push ./repo --ref stable --ref testing
  ori-push ./repo --token secret123`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "http://127.0.0.1:8080", "receiver base URL")
	rootCmd.Flags().StringVar(&token, "token", "", "bearer token for the receiver")
	rootCmd.Flags().StringArrayVar(&refspecs, "ref", nil, "branch to push (repeatable); default is all local refs")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "HTTP client timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPush(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	repoPath := args[0]
	ctx := context.Background()

	repo, err := jsonstore.Open(repoPath)
	if err != nil {
		return fmt.Errorf("opening local repository: %w", err)
	}

	push, err := pusher.New(repo, refspecs)
	if err != nil {
		return err
	}

	client := apiclient.New(serverURL+"/api/v1", token, timeout)

	var remoteInfo wire.Info
	if err := cli.Phase(out, "fetching remote info", func() error {
		remoteInfo, err = client.Info(ctx)
		return err
	}); err != nil {
		return err
	}

	updates := push.CheckUpdate(remoteInfo.Refs)
	if len(updates) == 0 {
		fmt.Fprintln(out, "Nothing to update")
		return nil
	}

	var negotiation wire.Status
	if err := cli.Phase(out, "negotiating update", func() error {
		negotiation, err = client.Update(ctx, updates)
		return err
	}); err != nil {
		return err
	}
	if !negotiation.StatusOK {
		msg := "negotiation rejected"
		if negotiation.Message != nil {
			msg = *negotiation.Message
		}
		return fmt.Errorf("%s", msg)
	}

	var objects []wire.NeededObject
	if err := cli.Phase(out, "computing objects to send", func() error {
		objects, err = push.Retrieve(updates)
		return err
	}); err != nil {
		return err
	}

	var missing []wire.NeededObject
	if err := cli.Phase(out, fmt.Sprintf("checking %d candidate objects against remote", len(objects)), func() error {
		for _, chunk := range apiclient.ChunkNeededObjects(objects) {
			result, err := client.MissingObjects(ctx, chunk)
			if err != nil {
				return err
			}
			missing = append(missing, result...)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := uploadObjects(ctx, out, client, repo, missing); err != nil {
		return err
	}

	var done wire.Status
	if err := cli.Phase(out, "finalizing push", func() error {
		done, err = client.Done(ctx)
		return err
	}); err != nil {
		return err
	}
	if !done.StatusOK {
		msg := "finalize rejected"
		if done.Message != nil {
			msg = *done.Message
		}
		return fmt.Errorf("%s", msg)
	}

	fmt.Fprintf(out, "Pushed %d object(s) across %d branch(es)\n", len(missing), len(updates))
	return nil
}

func uploadObjects(ctx context.Context, out io.Writer, client *apiclient.Client, repo interface {
	ObjectPath(string) string
}, missing []wire.NeededObject) error {
	if len(missing) == 0 {
		return nil
	}

	var totalBytes int64
	sizes := make([]int64, len(missing))
	for i, obj := range missing {
		if info, err := os.Stat(repo.ObjectPath(obj.ObjectName)); err == nil {
			sizes[i] = info.Size()
			totalBytes += info.Size()
		}
	}

	progress := cli.NewObjectProgress(out, len(missing), totalBytes)
	for i, obj := range missing {
		f, err := os.Open(repo.ObjectPath(obj.ObjectName))
		if err != nil {
			return fmt.Errorf("opening %s for upload: %w", obj.ObjectName, err)
		}
		status, err := client.Upload(ctx, obj, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("uploading %s: %w", obj.ObjectName, err)
		}
		if !status.StatusOK {
			msg := "upload rejected"
			if status.Message != nil {
				msg = *status.Message
			}
			return fmt.Errorf("uploading %s: %s", obj.ObjectName, msg)
		}
		progress.Advance(obj.ObjectName, sizes[i])
	}
	return nil
}
