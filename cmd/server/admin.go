package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinyes/sift/internal/app"
	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/logging"
	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/permasql"
	"github.com/shinyes/sift/internal/service"
)

// containerFactory opens the services an admin command runs against.
type containerFactory func(ctx context.Context) (*app.Container, func() error, error)

func buildContainer(ctx context.Context) (*app.Container, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return app.Build(ctx, cfg, logger)
}

type adminRunFunc func(ctx context.Context, c *app.Container, out io.Writer, args []string) error

func (open containerFactory) run(fn adminRunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container, cleanup, err := open(ctx)
		if err != nil {
			return err
		}
		defer cleanup() //nolint:errcheck
		return fn(ctx, container, cmd.OutOrStdout(), args)
	}
}

func newAdminCmd() *cobra.Command {
	return newAdminCmdWith(buildContainer)
}

func newAdminCmdWith(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "admin",
		Short:        "Administer users, filters, backups and storage",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newAdminUserCmd(open),
		newAdminTokenCmd(open),
		newAdminRegistrationCmd(open),
		newAdminFilterCmd(open),
		newAdminBackupCmd(open),
		newAdminStorageCmd(open),
	)
	return cmd
}

func newAdminUserCmd(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <username> <password> [display_name] [role]",
		Short: "Create a user",
		Args:  cobra.RangeArgs(2, 4),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			displayName := ""
			if len(args) >= 3 {
				displayName = strings.TrimSpace(args[2])
			}
			role := models.RoleUser
			if len(args) >= 4 {
				role = strings.TrimSpace(args[3])
			}
			admin := &models.User{Role: models.RoleAdmin}
			user, err := c.UserService.CreateUser(ctx, admin, service.CreateUserInput{
				Username:    strings.TrimSpace(args[0]),
				DisplayName: displayName,
				Password:    strings.TrimSpace(args[1]),
				Role:        role,
			}, true)
			if err != nil {
				return fmt.Errorf("create user failed: %w", err)
			}
			fmt.Fprintf(out, "user created: id=%d username=%s role=%s\n", user.ID, user.Username, user.Role)
			return nil
		}),
	})
	return cmd
}

func newAdminTokenCmd(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage personal access tokens"}

	var description, ttlRaw, expiresAtRaw string
	create := &cobra.Command{
		Use:   "create <username_or_id> [description]",
		Short: "Issue a token",
		Args:  cobra.MinimumNArgs(1),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			desc := strings.TrimSpace(description)
			if len(args) > 1 {
				if desc != "" {
					return errors.New("description already set by --description, remove extra positional text")
				}
				desc = strings.TrimSpace(strings.Join(args[1:], " "))
			}
			expiresAt, err := tokenExpiry(strings.TrimSpace(ttlRaw), strings.TrimSpace(expiresAtRaw), time.Now())
			if err != nil {
				return err
			}

			user, token, err := c.UserService.CreateAccessTokenForUserWithExpiry(ctx, strings.TrimSpace(args[0]), desc, expiresAt)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrTokenAlreadyExists):
					return errors.New("create token failed: token collision, please retry")
				case errors.Is(err, service.ErrInvalidTokenExpiry):
					return errors.New("create token failed: expires-at must be in the future")
				}
				return fmt.Errorf("create token failed: %w", err)
			}
			fmt.Fprintf(out, "token created: user=%s(%d)\n", user.Username, user.ID)
			fmt.Fprintf(out, "accessToken=%s\n", token)
			if expiresAt != nil {
				fmt.Fprintf(out, "expiresAt=%s\n", expiresAt.UTC().Format(time.RFC3339))
			}
			return nil
		}),
	}
	create.Flags().StringVar(&description, "description", "", "token description")
	create.Flags().StringVar(&ttlRaw, "ttl", "", "token ttl, e.g. 24h or 7d")
	create.Flags().StringVar(&expiresAtRaw, "expires-at", "", "token expiry in RFC3339")

	list := &cobra.Command{
		Use:   "list <username_or_id>",
		Short: "List a user's tokens",
		Args:  cobra.ExactArgs(1),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			identifier := strings.TrimSpace(args[0])
			user, tokens, err := c.UserService.ListAccessTokensForUser(ctx, identifier)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("user not found: %s", identifier)
				}
				return fmt.Errorf("list tokens failed: %w", err)
			}
			fmt.Fprintf(out, "tokens for user=%s(%d), count=%d\n", user.Username, user.ID, len(tokens))
			fmt.Fprintln(out, "id\tprefix\tcreatedAt\texpiresAt\trevokedAt\tlastUsedAt\tdescription")
			for _, token := range tokens {
				fmt.Fprintf(out,
					"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					token.ID,
					token.TokenPrefix,
					token.CreatedAt.UTC().Format(time.RFC3339),
					formatOptionalTime(token.ExpiresAt),
					formatOptionalTime(token.RevokedAt),
					formatOptionalTime(token.LastUsedAt),
					strings.TrimSpace(token.Description),
				)
			}
			return nil
		}),
	}

	revoke := &cobra.Command{
		Use:   "revoke <token_id>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			tokenID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || tokenID <= 0 {
				return fmt.Errorf("invalid token_id: %s", args[0])
			}
			token, err := c.UserService.RevokeAccessTokenByID(ctx, tokenID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("token not found: %d", tokenID)
				}
				if errors.Is(err, service.ErrTokenAlreadyRevoked) {
					fmt.Fprintf(out, "token already revoked: id=%d revokedAt=%s\n", tokenID, formatOptionalTime(token.RevokedAt))
					return nil
				}
				return fmt.Errorf("revoke token failed: %w", err)
			}
			fmt.Fprintf(out, "token revoked: id=%d user_id=%d revokedAt=%s\n", token.ID, token.UserID, formatOptionalTime(token.RevokedAt))
			return nil
		}),
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}

func tokenExpiry(ttlRaw string, expiresAtRaw string, now time.Time) (*time.Time, error) {
	if ttlRaw != "" && expiresAtRaw != "" {
		return nil, errors.New("--ttl and --expires-at cannot be used together")
	}
	if ttlRaw != "" {
		ttl, err := parseTTL(ttlRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid --ttl %q: %w", ttlRaw, err)
		}
		if ttl <= 0 {
			return nil, errors.New("--ttl must be greater than 0")
		}
		v := now.UTC().Add(ttl)
		return &v, nil
	}
	if expiresAtRaw != "" {
		v, err := time.Parse(time.RFC3339, expiresAtRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid --expires-at %q, expected RFC3339", expiresAtRaw)
		}
		v = v.UTC()
		return &v, nil
	}
	return nil, nil
}

func newAdminRegistrationCmd(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "registration", Short: "Show or toggle self registration"}
	cmd.AddCommand(
		&cobra.Command{
			Use:  "status",
			Args: cobra.NoArgs,
			RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, _ []string) error {
				allow, err := c.UserService.ResolveAllowRegistration(ctx, c.Config.AllowRegistration)
				if err != nil {
					return fmt.Errorf("read registration setting failed: %w", err)
				}
				fmt.Fprintf(out, "allow_registration=%t\n", allow)
				return nil
			}),
		},
		registrationToggle(open, "enable", true),
		registrationToggle(open, "disable", false),
	)
	return cmd
}

func registrationToggle(open containerFactory, use string, allow bool) *cobra.Command {
	return &cobra.Command{
		Use:  use,
		Args: cobra.NoArgs,
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, _ []string) error {
			if err := c.UserService.SetAllowRegistration(ctx, allow); err != nil {
				return fmt.Errorf("%s registration failed: %w", use, err)
			}
			fmt.Fprintf(out, "allow_registration=%t\n", allow)
			return nil
		}),
	}
}

// userFilter resolves "<username_or_id> <filter_id>" arguments.
func userFilter(ctx context.Context, c *app.Container, args []string) (models.User, int64, error) {
	user, err := lookupUser(ctx, c, args[0])
	if err != nil {
		return models.User{}, 0, err
	}
	filterID, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
	if err != nil || filterID <= 0 {
		return models.User{}, 0, fmt.Errorf("invalid filter_id: %s", args[1])
	}
	return user, filterID, nil
}

func lookupUser(ctx context.Context, c *app.Container, identifier string) (models.User, error) {
	user, err := c.UserService.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("user not found: %s", identifier)
		}
		return models.User{}, err
	}
	return user, nil
}

func newAdminFilterCmd(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "filter", Short: "Inspect saved filters"}

	list := &cobra.Command{
		Use:   "list <username_or_id>",
		Short: "List a user's filters",
		Args:  cobra.ExactArgs(1),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			user, err := lookupUser(ctx, c, args[0])
			if err != nil {
				return err
			}
			filters, err := c.FilterService.List(ctx, user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "filters for user=%s(%d), count=%d\n", user.Username, user.ID, len(filters))
			for _, filter := range filters {
				fmt.Fprintf(out, "%d\t%d\t%s\n", filter.ID, filter.Position, filter.Title)
			}
			return nil
		}),
	}

	show := &cobra.Command{
		Use:   "show <username_or_id> <filter_id>",
		Short: "Print a filter's steps",
		Args:  cobra.ExactArgs(2),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			user, filterID, err := userFilter(ctx, c, args)
			if err != nil {
				return err
			}
			filter, steps, err := c.FilterService.Load(ctx, user.ID, filterID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "filter %d: %s\n", filter.ID, filter.Title)
			for idx, step := range steps {
				fmt.Fprintf(out, "%d\t%s\t%s\n", idx, step.Operator, step.Title())
			}
			return nil
		}),
	}

	check := &cobra.Command{
		Use:   "check <username_or_id> <filter_id>",
		Short: "Verify a filter still decodes and its predicate is current",
		Args:  cobra.ExactArgs(2),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			user, filterID, err := userFilter(ctx, c, args)
			if err != nil {
				return err
			}
			filter, err := c.FilterService.Get(ctx, user.ID, filterID)
			if err != nil {
				return err
			}
			steps, err := c.FilterService.DecodeStoredStrict(ctx, user.ID, filter.Criteria)
			if err != nil {
				return fmt.Errorf("filter %d does not decode: %w", filter.ID, err)
			}
			derived, err := c.FilterService.Derive(steps)
			if err != nil {
				return fmt.Errorf("filter %d: %w", filter.ID, err)
			}
			if derived.Predicate != filter.Predicate {
				fmt.Fprintf(out, "filter %d: stored predicate is stale, save the filter again to refresh it\n", filter.ID)
				return nil
			}
			fmt.Fprintf(out, "filter %d: ok (%d steps)\n", filter.ID, len(steps))
			return nil
		}),
	}

	var raw bool
	sqlCmd := &cobra.Command{
		Use:   "sql <username_or_id> <filter_id>",
		Short: "Print a filter's stored predicate",
		Args:  cobra.ExactArgs(2),
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
			user, filterID, err := userFilter(ctx, c, args)
			if err != nil {
				return err
			}
			filter, err := c.FilterService.Get(ctx, user.ID, filterID)
			if err != nil {
				return err
			}
			predicate := filter.Predicate
			if !raw {
				predicate = permasql.ReplaceForQuery(predicate, time.Now())
			}
			fmt.Fprintln(out, predicate)
			return nil
		}),
	}
	sqlCmd.Flags().BoolVar(&raw, "raw", false, "keep date placeholders unexpanded")

	cmd.AddCommand(list, show, check, sqlCmd)
	return cmd
}

func newAdminBackupCmd(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "backup", Short: "Export and restore saved filters"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "export <username_or_id>",
			Short: "Write a backup of the user's filters",
			Args:  cobra.ExactArgs(1),
			RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
				user, err := lookupUser(ctx, c, args[0])
				if err != nil {
					return err
				}
				result, err := c.BackupService.Export(ctx, user.ID)
				if err != nil {
					return fmt.Errorf("export failed: %w", err)
				}
				fmt.Fprintf(out, "backup written: key=%s filters=%d\n", result.Key, result.Filters)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list <username_or_id>",
			Short: "List the user's backups",
			Args:  cobra.ExactArgs(1),
			RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
				user, err := lookupUser(ctx, c, args[0])
				if err != nil {
					return err
				}
				keys, err := c.BackupService.List(ctx, user.ID)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Fprintln(out, key)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "import <username_or_id> [key]",
			Short: "Restore filters from a backup, the latest when no key is given",
			Args:  cobra.RangeArgs(1, 2),
			RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, args []string) error {
				user, err := lookupUser(ctx, c, args[0])
				if err != nil {
					return err
				}
				key := ""
				if len(args) == 2 {
					key = args[1]
				}
				result, err := c.BackupService.Restore(ctx, user.ID, key)
				if err != nil {
					return fmt.Errorf("import failed: %w", err)
				}
				fmt.Fprintf(out, "backup restored: key=%s imported=%d skipped=%d\n", result.Key, result.Imported, len(result.Skipped))
				for title, reason := range result.Skipped {
					fmt.Fprintf(out, "skipped %q: %s\n", title, reason)
				}
				return nil
			}),
		},
	)
	return cmd
}

func newAdminStorageCmd(open containerFactory) *cobra.Command {
	cmd := &cobra.Command{Use: "storage", Short: "Show or switch the backup storage backend"}

	status := &cobra.Command{
		Use:  "status",
		Args: cobra.NoArgs,
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, _ []string) error {
			target, err := c.BackupTargets.Resolve(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "backend=%s\n", target.Backend)
			if target.Backend == config.StorageBackendS3 {
				fmt.Fprintf(out, "endpoint=%s\nregion=%s\nbucket=%s\npath_style=%t\n",
					target.S3.Endpoint, target.S3.Region, target.S3.Bucket, target.S3.UsePathStyle)
			}
			return nil
		}),
	}

	local := &cobra.Command{
		Use:  "local",
		Args: cobra.NoArgs,
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, _ []string) error {
			if err := c.BackupTargets.SetLocal(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "backend=local")
			return nil
		}),
	}

	var s3Cfg config.S3Config
	s3 := &cobra.Command{
		Use:  "s3",
		Args: cobra.NoArgs,
		RunE: open.run(func(ctx context.Context, c *app.Container, out io.Writer, _ []string) error {
			if err := c.BackupTargets.SetS3(ctx, s3Cfg); err != nil {
				return err
			}
			fmt.Fprintln(out, "backend=s3")
			return nil
		}),
	}
	s3.Flags().StringVar(&s3Cfg.Endpoint, "endpoint", "", "S3 endpoint")
	s3.Flags().StringVar(&s3Cfg.Region, "region", "", "S3 region")
	s3.Flags().StringVar(&s3Cfg.Bucket, "bucket", "", "S3 bucket")
	s3.Flags().StringVar(&s3Cfg.AccessKeyID, "access-key-id", "", "S3 access key id")
	s3.Flags().StringVar(&s3Cfg.AccessSecret, "access-secret", "", "S3 access key secret")
	s3.Flags().BoolVar(&s3Cfg.UsePathStyle, "path-style", true, "use path-style addressing")

	cmd.AddCommand(status, local, s3)
	return cmd
}
