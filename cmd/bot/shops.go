package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/domain/users"
)

type shopAddOptions struct {
	Slug         string
	Name         string
	Token        string
	Currency     string
	CollectName  bool
	OwnerTGID    int64
	NoCollectTel bool
}

func newShopsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shops",
		Short: "Manage shops (tenants)",
	}
	cmd.AddCommand(newShopsAddCmd(root))
	return cmd
}

func newShopsAddCmd(root *rootOptions) *cobra.Command {
	var opts shopAddOptions

	cmd := &cobra.Command{
		Use:   "add --slug <slug> --name <name> --token <bot token> --owner <telegram id>",
		Short: "Register a shop and its owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.Slug) == "" {
				return errors.New("--slug is required")
			}
			if strings.TrimSpace(opts.Name) == "" {
				return errors.New("--name is required")
			}
			if opts.OwnerTGID <= 0 {
				return errors.New("--owner is required")
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

			settings := shops.DefaultSettings()
			settings.CollectName = opts.CollectName
			settings.CollectPhone = !opts.NoCollectTel
			if opts.Currency != "" {
				settings.Currency = strings.ToUpper(opts.Currency)
			}

			shop, err := shops.NewRepo(pool).Create(ctx, shops.Shop{
				Slug:          opts.Slug,
				Name:          opts.Name,
				TelegramToken: opts.Token,
				Settings:      settings,
			})
			if err != nil {
				return fmt.Errorf("create shop: %w", err)
			}
			if _, err := users.NewRepo(pool).UpsertFromTelegram(ctx, shop.ID, users.Telegram{ID: opts.OwnerTGID}, users.RoleOwner); err != nil {
				return fmt.Errorf("add owner: %w", err)
			}

			e.log.Info("shop created", "shop_id", shop.ID, "slug", shop.Slug, "owner_tg_id", opts.OwnerTGID)
			fmt.Fprintln(cmd.OutOrStdout(), shop.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Slug, "slug", "", "unique shop slug")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Token, "token", "", "telegram bot token")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "price currency (default RUB)")
	cmd.Flags().BoolVar(&opts.CollectName, "collect-name", false, "ask customer name before the quote")
	cmd.Flags().BoolVar(&opts.NoCollectTel, "no-phone", false, "do not ask customer phone")
	cmd.Flags().Int64Var(&opts.OwnerTGID, "owner", 0, "owner telegram id")
	return cmd
}
