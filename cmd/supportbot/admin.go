package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/memohai/supportbot/internal/support"
)

// withService runs fn against a support service opened from the config, closing the store afterwards.
func withService(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, svc *support.Service) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, st, err := openService(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(ctx, svc)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func newUsersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Inspect platform users"}
	var banned bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List users that are not customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *support.Service) error {
				var (
					items []support.PlatformUser
					err   error
				)
				if banned {
					items, err = svc.ListBannedUsers(ctx)
				} else {
					items, err = svc.ListNonCustomerUsers(ctx)
				}
				if err != nil {
					return err
				}
				table := newTable(cmd.OutOrStdout(), "ID", "USERNAME", "BANNED", "CREATED")
				for _, u := range items {
					table.Append([]string{strconv.FormatInt(u.ID, 10), u.DisplayName(), strconv.FormatBool(u.Banned), formatTime(u.CreatedAt)})
				}
				table.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&banned, "banned", false, "List banned users instead")
	cmd.AddCommand(list)
	return cmd
}

func newCustomersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "customers", Short: "Inspect and edit customers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *support.Service) error {
				items, err := svc.ListCustomers(ctx)
				if err != nil {
					return err
				}
				table := newTable(cmd.OutOrStdout(), "ID", "USER", "PHONE", "NAME", "CREATED")
				for _, c := range items {
					table.Append([]string{c.ID, strconv.FormatInt(c.UserID, 10), c.Phone, c.FullName(), formatTime(c.CreatedAt)})
				}
				table.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename ID FIRST_NAME LAST_NAME",
		Short: "Set a customer's first and last name",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *support.Service) error {
				c, err := svc.RenameCustomer(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "customer %s renamed to %s\n", c.ID, c.FullName())
				return nil
			})
		},
	})
	return cmd
}

func newOperatorsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "operators", Short: "Manage support operators"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add USER_ID",
		Short: "Mark a Telegram user as operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc *support.Service) error {
				op, err := svc.RegisterOperator(ctx, userID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user %d is %s\n", op.UserID, op.Role)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *support.Service) error {
				items, err := svc.ListOperators(ctx)
				if err != nil {
					return err
				}
				table := newTable(cmd.OutOrStdout(), "USER", "ROLE", "SINCE")
				for _, op := range items {
					table.Append([]string{strconv.FormatInt(op.UserID, 10), op.Role, formatTime(op.CreatedAt)})
				}
				table.Render()
				return nil
			})
		},
	})
	return cmd
}

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "messages", Short: "Inspect forwarded messages"}
	cmd.AddCommand(&cobra.Command{
		Use:   "unanswered",
		Short: "List unanswered messages, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *support.Service) error {
				items, err := svc.ListUnanswered(ctx)
				if err != nil {
					return err
				}
				table := newTable(cmd.OutOrStdout(), "ID", "USER", "CHAT_MESSAGE", "RECEIVED")
				for _, m := range items {
					table.Append([]string{m.ID, strconv.FormatInt(m.UserID, 10), strconv.Itoa(m.SupportChatMessageID), formatTime(m.CreatedAt)})
				}
				table.Render()
				return nil
			})
		},
	})
	return cmd
}
