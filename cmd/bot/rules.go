package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
)

type rulesOptions struct {
	Shop string
	Path string
}

func newRulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Import or export shop price rules as xlsx",
	}
	cmd.AddCommand(newRulesImportCmd(root))
	cmd.AddCommand(newRulesExportCmd(root))
	cmd.AddCommand(newRulesDeactivateCmd(root))
	return cmd
}

func newRulesImportCmd(root *rootOptions) *cobra.Command {
	var opts rulesOptions

	cmd := &cobra.Command{
		Use:   "import --shop <slug> --file <path.xlsx>",
		Short: "Upsert price rules from an xlsx file; invalid rows are reported and skipped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			e, err := load(root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, e)
			if err != nil {
				return err
			}
			defer pool.Close()

			shop, err := shops.NewRepo(pool).GetBySlug(ctx, opts.Shop)
			if err != nil {
				return fmt.Errorf("shop %q: %w", opts.Shop, err)
			}
			data, err := os.ReadFile(opts.Path)
			if err != nil {
				return err
			}

			rules, rowErrs, err := pricing.ImportXLSX(bytes.NewReader(data), shop.ID)
			if err != nil {
				return err
			}
			for _, re := range rowErrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "skip %v\n", re)
			}
			if len(rules) > 0 {
				if err := pricing.NewRepo(pool).UpsertRules(ctx, rules); err != nil {
					return fmt.Errorf("upsert rules: %w", err)
				}
			}
			e.log.Info("rules imported", "shop", shop.Slug, "loaded", len(rules), "rejected", len(rowErrs))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Shop, "shop", "", "shop slug")
	cmd.Flags().StringVar(&opts.Path, "file", "", "xlsx file to import")
	return cmd
}

func newRulesExportCmd(root *rootOptions) *cobra.Command {
	var opts rulesOptions

	cmd := &cobra.Command{
		Use:   "export --shop <slug> --out <path.xlsx>",
		Short: "Write all price rules of a shop to an xlsx file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			e, err := load(root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, e)
			if err != nil {
				return err
			}
			defer pool.Close()

			shop, err := shops.NewRepo(pool).GetBySlug(ctx, opts.Shop)
			if err != nil {
				return fmt.Errorf("shop %q: %w", opts.Shop, err)
			}
			rules, err := pricing.NewRepo(pool).ListAll(ctx, shop.ID)
			if err != nil {
				return err
			}

			f, err := os.Create(opts.Path)
			if err != nil {
				return err
			}
			if err := pricing.ExportXLSX(f, rules); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			e.log.Info("rules exported", "shop", shop.Slug, "count", len(rules), "path", opts.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Shop, "shop", "", "shop slug")
	cmd.Flags().StringVar(&opts.Path, "out", "", "output xlsx path")
	return cmd
}

func newRulesDeactivateCmd(root *rootOptions) *cobra.Command {
	var shopSlug string

	cmd := &cobra.Command{
		Use:   "deactivate --shop <slug> <rule id>...",
		Short: "Soft-disable price rules; they stay referenced by existing leads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(shopSlug) == "" {
				return errors.New("--shop is required")
			}
			ids := make([]uuid.UUID, 0, len(args))
			for _, a := range args {
				id, err := uuid.Parse(a)
				if err != nil {
					return fmt.Errorf("rule id %q: %w", a, err)
				}
				ids = append(ids, id)
			}

			e, err := load(root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, e)
			if err != nil {
				return err
			}
			defer pool.Close()

			shop, err := shops.NewRepo(pool).GetBySlug(ctx, shopSlug)
			if err != nil {
				return fmt.Errorf("shop %q: %w", shopSlug, err)
			}
			repo := pricing.NewRepo(pool)
			for _, id := range ids {
				if err := repo.Deactivate(ctx, shop.ID, id); err != nil {
					return fmt.Errorf("deactivate %s: %w", id, err)
				}
			}
			e.log.Info("rules deactivated", "shop", shop.Slug, "count", len(ids))
			return nil
		},
	}
	cmd.Flags().StringVar(&shopSlug, "shop", "", "shop slug")
	return cmd
}

func (o rulesOptions) validate() error {
	if strings.TrimSpace(o.Shop) == "" {
		return errors.New("--shop is required")
	}
	if strings.TrimSpace(o.Path) == "" {
		return errors.New("file path is required")
	}
	return nil
}
