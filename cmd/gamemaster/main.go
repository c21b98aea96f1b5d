// Package main provides the gamemaster CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/richinex/gamemaster/cli"
	"github.com/richinex/gamemaster/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider   string
	maxIter    int
	dbPath     string
	configPath string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "gamemaster",
		Short: "A text adventure narrated by an LLM game master",
		Long: `A single-player text adventure run by an LLM game master.

- new: session zero, where the guide builds your character and world
- play: narrative turns that update the world through tools
- recall: query a campaign's semantic memory

Campaigns live in a SQLite database. Memory is kept in process and saved
only with --persist or the snapshot command.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().IntVarP(&maxIter, "max-iter", "m", 0, "Maximum model rounds per turn (0 uses the configured value)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", fmt.Sprintf("Database path (default %s)", config.DefaultDBPath))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(newCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(recallCmd())
	rootCmd.AddCommand(campaignsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(restartCmd())
	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		Provider:   provider,
		MaxIter:    maxIter,
		DBPath:     dbPath,
		ConfigPath: configPath,
		Verbose:    verbose,
	}
}

func newCmd() *cobra.Command {
	var play, persist bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a campaign with session zero",
		Long: `Talk with the guide to create a character and a world. The
conversation is saved as a draft until the guide finalizes the campaign.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewGame(context.Background(), play, persist, options())
		},
	}

	cmd.Flags().BoolVar(&play, "play", true, "Continue into the opening scene once the campaign exists")
	cmd.Flags().BoolVar(&persist, "persist", false, "Save the memory index on exit")

	return cmd
}

func playCmd() *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "play [campaign-id]",
		Short: "Play a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Play(context.Background(), args[0], persist, options())
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "Save the memory index on exit")

	return cmd
}

func recallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recall [campaign-id] [query]",
		Short: "Show the memories a query recalls",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Recall(context.Background(), args[0], args[1], options())
		},
	}
}

func campaignsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "campaigns",
		Short: "List campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListCampaigns(context.Background(), options())
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [campaign-id]",
		Short: "Show a campaign's recent turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.History(context.Background(), args[0], limit, options())
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of turns to show")

	return cmd
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [campaign-id]",
		Short: "Save a campaign's memory index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Snapshot(context.Background(), args[0], options())
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [campaign-id]",
		Short: "Delete a campaign and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.DeleteCampaign(context.Background(), args[0], options())
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart [campaign-id]",
		Short: "Reset a campaign's world but keep its character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RestartCampaign(context.Background(), args[0], options())
		},
	}
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.ListTools(os.Stdout, verboseTools)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool parameters")

	return cmd
}
