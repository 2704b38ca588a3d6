package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"storefront/internal/cartsync"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

func newShowCommand(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := a.syncer.Identity(); ok {
				ctx, cancel := a.flushCtx(cmd.Context())
				defer cancel()
				if err := a.syncer.Resync(ctx); err != nil {
					// 取れなければ手元のカートを出す
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				}
			} else if opts.Format == "text" {
				device, err := a.store.DeviceID(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "guest cart (device %s)\n", device)
			}
			return a.render(cmd.OutOrStdout(), opts.Format, a.syncer.View())
		},
	}
}

func newAddCommand(a *app, opts *rootOptions) *cobra.Command {
	var qty int64

	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.api.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			line, err := p.Line()
			if err != nil {
				return err
			}
			if err := a.syncer.Add(line, qty); err != nil {
				return err
			}
			return a.flushAndRender(cmd, opts)
		},
	}
	cmd.Flags().Int64VarP(&qty, "qty", "q", 1, "quantity to add")
	return cmd
}

func newSetCommand(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set the quantity of a cart line (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: quantity must be an integer", cartsync.ErrInvalidArgument)
			}
			if err := a.syncer.Update(args[0], qty); err != nil {
				return err
			}
			return a.flushAndRender(cmd, opts)
		},
	}
}

func newRemoveCommand(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.syncer.Remove(args[0]); err != nil {
				return err
			}
			return a.flushAndRender(cmd, opts)
		},
	}
}

func newClearCommand(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.syncer.Clear()
			return a.flushAndRender(cmd, opts)
		},
	}
}

func newLoginCommand(a *app, opts *rootOptions) *cobra.Command {
	var token, owner string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and merge the local cart into your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				sub, err := subjectOf(token)
				if err != nil {
					return err
				}
				owner = sub
			}
			ident := cartsync.Identity{OwnerID: owner, Token: token}

			ctx, cancel := a.flushCtx(cmd.Context())
			defer cancel()

			report, err := a.syncer.Login(ctx, ident)
			for _, id := range sortedFailed(report) {
				fmt.Fprintf(cmd.ErrOrStderr(), "not merged %s: %v\n", id, report.Failed[id])
			}
			if errors.Is(err, cartsync.ErrUnauthenticated) {
				return err
			}
			if saveErr := a.store.SaveSession(cmd.Context(), ident); saveErr != nil {
				return saveErr
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			}
			return a.render(cmd.OutOrStdout(), opts.Format, a.syncer.View())
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: token subject)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLogoutCommand(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the local cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.syncer.Logout()
			if err := a.store.ClearSession(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newProductsCommand(a *app, opts *rootOptions) *cobra.Command {
	var q, category string
	var page, limit int

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, total, err := a.api.ListProducts(cmd.Context(), q, category, page, limit)
			if err != nil {
				return err
			}
			return a.renderProducts(cmd.OutOrStdout(), opts.Format, items, total)
		},
	}
	cmd.Flags().StringVar(&q, "q", "", "search by name")
	cmd.Flags().StringVar(&category, "category", "", "category name")
	cmd.Flags().IntVar(&page, "page", 1, "page")
	cmd.Flags().IntVar(&limit, "limit", 20, "items per page")
	return cmd
}

func (a *app) flushAndRender(cmd *cobra.Command, opts *rootOptions) error {
	ctx, cancel := a.flushCtx(cmd.Context())
	defer cancel()

	err := a.syncer.Flush(ctx)
	if renderErr := a.render(cmd.OutOrStdout(), opts.Format, a.syncer.View()); renderErr != nil {
		return renderErr
	}
	return err
}

// 署名は確かめずにsubだけ読む（検証はサーバー側）
func subjectOf(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	switch v := claims["sub"].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", errors.New("token has no subject; pass --owner")
}
