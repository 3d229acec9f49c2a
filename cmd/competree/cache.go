package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func openCacheDB() (*backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("no data directory configured; the cache is memory only")
	}
	return openBackend(cfg)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	b, err := openCacheDB()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmd.Context()
	count, size, err := b.db.Size(ctx)
	if err != nil {
		return err
	}
	keys, err := b.db.Keys(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n", b.db.Path())
	fmt.Fprintf(out, "Entries:  %d\n", count)
	fmt.Fprintf(out, "Size:     %s\n", humanize.IBytes(uint64(size)))
	for _, k := range keys {
		fmt.Fprintf(out, "  %s\n", k)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	b, err := openCacheDB()
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.cache.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	pattern := args[0]
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid pattern %q", pattern)
	}

	b, err := openCacheDB()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmd.Context()
	removed, err := purge(ctx, b.db, pattern, func(key string) error {
		return b.cache.Delete(ctx, key)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries matching %s\n", len(removed), pattern)
	for _, k := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", k)
	}
	return nil
}

// keyLister is the part of a store purge needs.
type keyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// purge deletes every key matching pattern and returns the deleted keys.
// A key "layout:career-42" also matches as "layout/career-42", so
// path-style globs such as "layout/*" select by kind.
func purge(ctx context.Context, db keyLister, pattern string, del func(string) error) ([]string, error) {
	keys, err := db.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, k := range keys {
		if !matchKey(pattern, k) {
			continue
		}
		if err := del(k); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", k, err)
		}
		removed = append(removed, k)
	}
	return removed, nil
}

func matchKey(pattern, key string) bool {
	if ok, _ := doublestar.Match(pattern, key); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern, strings.Replace(key, ":", "/", 1))
	return ok
}
