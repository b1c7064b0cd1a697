package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"relaybot/internal/auth"
	"relaybot/internal/bot"
	"relaybot/internal/config"
	"relaybot/internal/models"
)

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Print the command menu to register with the chat platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(bot.Commands())
		},
	}
}

func newAllowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allow",
		Short: "Manage the persisted allow-list",
	}

	var note string
	add := &cobra.Command{
		Use:   "add <user-id>...",
		Short: "Allow users to talk to the bot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := loadAllowStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			for _, id := range args {
				if err := store.Grant(cmd.Context(), models.UserID(id), note); err != nil {
					return fmt.Errorf("allow %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "allowed %s\n", id)
			}
			return nil
		},
	}
	add.Flags().StringVar(&note, "note", "", "Free-form note stored with the entry")

	remove := &cobra.Command{
		Use:   "remove <user-id>...",
		Short: "Remove users from the allow-list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := loadAllowStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			for _, id := range args {
				if err := store.Revoke(cmd.Context(), models.UserID(id)); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted allow-list entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := loadAllowStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID")
			for _, id := range ids {
				fmt.Fprintln(w, id)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func loadAllowStore(ctx context.Context) (*auth.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database == "" {
		return nil, nil, errors.New("no database configured: set \"database\" in the config file")
	}
	return openAllowStore(ctx, cfg)
}
