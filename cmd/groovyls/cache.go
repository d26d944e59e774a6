package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"groovyls/internal/classpathcache"
	"groovyls/internal/slogutil"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persisted classpath cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [dir]",
	Short: "Drop every cached classpath of a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheClear,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats [dir]",
	Short: "Show what is cached for a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheStats,
}

var cacheFormat string

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format (human, json, yaml)")
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache(cmd *cobra.Command, args []string) (*classpathcache.Store, string, error) {
	root, err := workspaceArg(args)
	if err != nil {
		return nil, "", err
	}
	cfg, _, err := loadConfig(cmd, root, nil)
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(cfg.Classpath.CachePath); os.IsNotExist(err) {
		return nil, root, nil
	}
	logger := slogutil.NewLogger(os.Stderr, slogutil.LevelFromVerbosity(verbosity, quiet))
	store, err := classpathcache.Open(cfg.Classpath.CachePath, logger)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open classpath cache: %w", err)
	}
	return store, root, nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	store, root, err := openCache(cmd, args)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("No classpath cache.")
		return nil
	}
	defer store.Close()

	if err := store.Clear(context.Background(), root); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Printf("Cleared cached classpaths of %s\n", root)
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(cacheFormat)
	if err != nil {
		return err
	}
	store, root, err := openCache(cmd, args)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("No classpath cache.")
		return nil
	}
	defer store.Close()

	st, err := store.Stats(context.Background(), root)
	if err != nil {
		return err
	}
	status := &CacheStatus{Path: store.Path(), Stats: st}
	return render(os.Stdout, format, status, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n  Projects: %d, entries: %d, %d bytes\n", status.Path, st.Projects, st.Entries, st.BlobBytes)
		return err
	})
}
