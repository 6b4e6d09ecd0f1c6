// Command ori-receive is the Receiver CLI: it serves the protocol's six
// endpoints over HTTP for one archive-mode repository. Grounded on the
// teacher's internal/server.Server construction sequence (Configure, Init,
// Start, signal-driven Stop), generalized to this protocol's config shape
// and logrus-based structured logging.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/ostree-upload/internal/apiserver"
	"github.com/NahomAnteneh/ostree-upload/internal/backend"
	"github.com/NahomAnteneh/ostree-upload/internal/backend/jsonstore"
)

var (
	host       string
	port       int
	repoPath   string
	token      string
	poolSize   int
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "ori-receive",
	Short: "Serve an archive-mode repository as a push destination",
	Long: `ori-receive accepts pushes from ori-push: it negotiates branch updates,
stages uploaded objects, and atomically promotes them once a push
completes.`,
	RunE: runReceive,
}

func init() {
	cfg := apiserver.DefaultConfig()
	rootCmd.Flags().StringVar(&host, "host", cfg.Host, "address to bind")
	rootCmd.Flags().IntVar(&port, "port", cfg.Port, "port to bind")
	rootCmd.Flags().StringVar(&repoPath, "repo-path", cfg.RepoPath, "path to the archive-mode repository to serve")
	rootCmd.Flags().StringVar(&token, "token", "", "bearer token clients must present (empty disables the check)")
	rootCmd.Flags().IntVar(&poolSize, "workers", 4, "size of the I/O worker pool used to stage uploads")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to a JSON config file (defaults to $OSTREE_RECEIVE_CONFIG or ./config.json if present); flags set explicitly on the command line override its values")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReceive(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.RepoPath); os.IsNotExist(err) {
		if _, err := jsonstore.Create(cfg.RepoPath); err != nil {
			return fmt.Errorf("initializing repository at %s: %w", cfg.RepoPath, err)
		}
		log.WithField("repo", cfg.RepoPath).Info("initialized new archive repository")
	}

	srv, err := apiserver.New(cfg, log, func(path string) (backend.Repo, error) {
		return jsonstore.Open(path)
	}, poolSize)
	if err != nil {
		return fmt.Errorf("constructing receiver: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	}
}

// loadConfig resolves the server Config from a JSON file, matching the
// original ostree-receive binary's OSTREE_RECEIVE_CONFIG/--config loading
// (bin/ostree-receive.rs: env var, then --config/-c, default config.json).
// The file is decoded strictly via apiserver.DecodeConfig; any flag the
// caller set explicitly on the command line overrides the file's value.
func loadConfig(cmd *cobra.Command) (apiserver.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("OSTREE_RECEIVE_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && configPath == "" {
			// No --config given and no config.json present: fall back to
			// flags alone.
			return apiserver.Config{Host: host, Port: port, RepoPath: repoPath, Token: token}, nil
		}
		return apiserver.Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return apiserver.Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg, err := apiserver.DecodeConfig(raw)
	if err != nil {
		return apiserver.Config{}, fmt.Errorf("decoding config file %s: %w", path, err)
	}

	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("repo-path") {
		cfg.RepoPath = repoPath
	}
	if cmd.Flags().Changed("token") {
		cfg.Token = token
	}
	return cfg, nil
}
