package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/config"
	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
)

var tokenCode string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage amoCRM OAuth2 tokens",
}

var tokenExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange a one-time authorization code for a token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("token"); err != nil {
			return err
		}
		code := tokenCode
		if code == "" {
			code = cfg.CRM.AuthCode
		}
		if code == "" {
			return fault.Configuration("token: exchange", "authorization code is required (--code or crm.auth_code)")
		}

		return withTokens(cmd, func(ctx context.Context, e *env) (*model.TokenPair, error) {
			return e.Tokens.ExchangeCode(ctx, code)
		})
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the token pair with the current refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("token"); err != nil {
			return err
		}
		return withTokens(cmd, func(ctx context.Context, e *env) (*model.TokenPair, error) {
			return e.Tokens.Refresh(ctx)
		})
	},
}

var tokenAuthorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Print the consent URL for a new authorization",
	Long:  "Stores a fresh state value and prints the amoCRM consent URL carrying it. The callback server accepts a code only together with the pending state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("token"); err != nil {
			return err
		}
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		target, err := e.Tokens.AuthorizeURL(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), target)
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored token pair (masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		pair, err := e.Store.LoadTokens(ctx)
		if err != nil {
			return err
		}
		if pair == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no tokens stored")
			return nil
		}
		printPair(cmd, pair)
		return nil
	},
}

// withTokens runs a token request. Request faults are logged and leave the
// exit status at zero; only setup failures are returned.
func withTokens(cmd *cobra.Command, fn func(context.Context, *env) (*model.TokenPair, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	pair, err := fn(ctx, e)
	if err != nil {
		if fault.Is(err, fault.KindConfiguration) {
			return err
		}
		zap.L().Warn("token: pair not updated", zap.Error(err))
		return nil
	}
	printPair(cmd, pair)
	return nil
}

func printPair(cmd *cobra.Command, pair *model.TokenPair) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "access_token:  %s\n", config.Mask(pair.AccessToken))
	fmt.Fprintf(out, "refresh_token: %s\n", config.Mask(pair.RefreshToken))
	if pair.ExpiresIn > 0 {
		fmt.Fprintf(out, "expires_in:    %ds\n", pair.ExpiresIn)
	}
}

func init() {
	tokenExchangeCmd.Flags().StringVar(&tokenCode, "code", "", "authorization code (default from crm.auth_code)")
	tokenCmd.AddCommand(tokenAuthorizeCmd, tokenExchangeCmd, tokenRefreshCmd, tokenShowCmd)
	rootCmd.AddCommand(tokenCmd)
}
