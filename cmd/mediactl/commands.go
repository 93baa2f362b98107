package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-media/internal/logging"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/backfill"
	"github.com/tendant/simple-media/pkg/simplemedia/client"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
	repopg "github.com/tendant/simple-media/pkg/simplemedia/repo/postgres"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
	"github.com/tendant/simple-media/pkg/simplemedia/validation"
)

// localServer builds the pipeline from the environment. Logs go to stderr so
// stdout stays machine-readable.
func localServer(cmd *cobra.Command) (*config.Server, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	} else if level == "info" {
		level = "warn"
	}
	return cfg.BuildServer(cmd.Context(), logging.New(level, "text", cmd.ErrOrStderr()))
}

func remoteClient(cmd *cobra.Command) (*client.Client, bool, error) {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		return nil, false, nil
	}
	c, err := client.New(server)
	return c, true, err
}

func readFile(path string) (simplemedia.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return simplemedia.File{}, err
	}
	return simplemedia.File{Name: filepath.Base(path), Size: int64(len(data)), Data: data}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewValidateCommand checks files against a kind's rules without storing
// anything.
func NewValidateCommand() *cobra.Command {
	var kindName string

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check files against the validation rules of a kind",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := simplemedia.ParseKind(kindName)
			if err != nil {
				return err
			}
			v := validation.New(validation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

			rejected := 0
			for _, path := range args {
				file, err := readFile(path)
				if err != nil {
					return err
				}
				res, err := v.Validate(cmd.Context(), file, kind)
				if err != nil {
					rejected++
					fmt.Fprintf(cmd.OutOrStdout(), "REJECT %s: %v\n", path, err)
					continue
				}
				note := ""
				switch {
				case res.Converted:
					note = " (converted)"
				case res.Passthrough:
					note = " (passthrough)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK     %s: %s %dx%d%s\n", path, res.File.MimeType, res.Width, res.Height, note)
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d files rejected", rejected, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindName, "kind", "k", string(simplemedia.KindPostImage), "media kind (avatar, cover, post-image, post-video)")
	return cmd
}

// NewUploadCommand uploads one file for an owner.
func NewUploadCommand() *cobra.Command {
	var kindName, owner string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and generate its variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := simplemedia.ParseKind(kindName)
			if err != nil {
				return err
			}
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("invalid owner id: %w", err)
			}
			file, err := readFile(args[0])
			if err != nil {
				return err
			}

			var res *upload.Result
			if c, remote, err := remoteClient(cmd); err != nil {
				return err
			} else if remote {
				res, err = c.Upload(cmd.Context(), ownerID, kind, file)
				if err != nil {
					return err
				}
			} else {
				srv, err := localServer(cmd)
				if err != nil {
					return err
				}
				defer srv.Close()
				res, err = srv.Uploads.Upload(cmd.Context(), upload.Request{OwnerID: ownerID, Kind: kind, File: file})
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&kindName, "kind", "k", string(simplemedia.KindPostImage), "media kind")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (UUID)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

// NewResolveCommand prints a display URL per key.
func NewResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <key>...",
		Short: "Resolve storage keys to display URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolve, cleanup, err := resolverFor(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			failed := 0
			for _, key := range args {
				url, err := resolve(cmd.Context(), key)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", key, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, url)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d keys failed to resolve", failed, len(args))
			}
			return nil
		},
	}
	return cmd
}

func resolverFor(cmd *cobra.Command) (func(context.Context, string) (string, error), func(), error) {
	c, remote, err := remoteClient(cmd)
	if err != nil {
		return nil, nil, err
	}
	if remote {
		return c.Resolve, func() {}, nil
	}
	srv, err := localServer(cmd)
	if err != nil {
		return nil, nil, err
	}
	return srv.URLs.URL, srv.Close, nil
}

// NewBackfillCommand derives variants for assets that have none.
func NewBackfillCommand() *cobra.Command {
	var owner, kindName string
	var dryRun bool
	var concurrency, batchSize int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate missing variants for stored assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backfill.Options{DryRun: dryRun, Concurrency: concurrency, BatchSize: batchSize}
			if owner != "" {
				id, err := uuid.Parse(owner)
				if err != nil {
					return fmt.Errorf("invalid owner id: %w", err)
				}
				opts.Scope.OwnerID = &id
			}
			if kindName != "" {
				kind, err := simplemedia.ParseKind(kindName)
				if err != nil {
					return err
				}
				opts.Scope.Kind = &kind
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				opts.OnProgress = func(done, total int64) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\rprocessed %d/%d", done, total)
				}
			}

			srv, err := localServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Close()

			start := time.Now()
			res, err := srv.Backfill.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if opts.OnProgress != nil {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found=%d succeeded=%d failed=%d skipped=%d dry_run=%t elapsed=%s\n",
				res.TotalFound, res.TotalSucceeded, res.TotalFailed, res.TotalSkipped, dryRun, time.Since(start).Round(time.Millisecond))
			for _, a := range res.Assets {
				if a.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "FAILED %s (%s): %s\n", a.AssetID, a.Kind, a.Error)
				}
			}
			if res.TotalFailed > 0 {
				return fmt.Errorf("%d assets failed", res.TotalFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "limit to one owner (UUID)")
	cmd.Flags().StringVarP(&kindName, "kind", "k", "", "limit to one kind")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without generating")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "assets processed at once")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "assets listed per query")
	return cmd
}

// NewMigrateCommand creates the asset table in Postgres.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres asset schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := localServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Close()

			repo, ok := srv.Repo.(*repopg.Repository)
			if !ok {
				return errors.New("migrate requires MEDIA_DATABASE_URL to point at Postgres")
			}
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
