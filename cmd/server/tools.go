package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sheetviz/backend/internal/auth"
	"github.com/sheetviz/backend/internal/client"
	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/parser"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var (
		tabs   []string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "decode [input.xlsx]",
		Short: "Decode a workbook locally and print its sheets as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := parser.NewDecoder().DecodeFile(args[0], tabs)
			if err != nil {
				return fmt.Errorf("decode failed: %w", err)
			}
			out := struct {
				Sheets   []models.SheetData `json:"sheets"`
				Metadata models.Metadata    `json:"metadata"`
			}{res.Sheets, res.Metadata}
			return writeJSON(cmd, out, pretty)
		},
	}
	cmd.Flags().StringSliceVar(&tabs, "tab", nil, "Tab to decode (repeatable, default: all tabs)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var (
		server  string
		token   string
		fetch   bool
		msgpack bool
		pretty  bool
	)
	cmd := &cobra.Command{
		Use:   "upload [input.xlsx]",
		Short: "Upload a workbook and wait for it to be decoded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("SHEETVIZ_TOKEN")
			}
			if token == "" {
				return errors.New("a token is required (--token or SHEETVIZ_TOKEN)")
			}
			if server == "" {
				server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}

			ctx := cmd.Context()

			c := client.New(server, token)
			c.Msgpack = msgpack
			up, err := c.Upload(ctx, args[0])
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s as %s\n", args[0], up.FileID)

			p := client.NewPoller(c)
			p.Interval = cfg.Poller.Interval
			p.MaxAttempts = cfg.Poller.MaxAttempts
			p.OnAttempt = func(attempt int, st *client.StatusResponse, err error) {
				switch {
				case err != nil:
					fmt.Fprintf(cmd.ErrOrStderr(), "  [%d/%d] %v\n", attempt, p.MaxAttempts, err)
				default:
					fmt.Fprintf(cmd.ErrOrStderr(), "  [%d/%d] %s\n", attempt, p.MaxAttempts, st.Status)
				}
			}

			res, err := p.Poll(ctx, up.FileID)
			if err != nil {
				return err
			}
			switch res.Outcome {
			case client.OutcomeFailed:
				return fmt.Errorf("decode failed: %s", res.ErrorMessage)
			case client.OutcomeTimedOut:
				return fmt.Errorf("file %s still processing after %d attempts", up.FileID, res.Attempts)
			}

			if !fetch {
				return writeJSON(cmd, res.Status, pretty)
			}
			data, err := c.Data(ctx, up.FileID)
			if err != nil {
				return fmt.Errorf("fetching data: %w", err)
			}
			return writeJSON(cmd, data, pretty)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL (default: http://localhost:<port>)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Print the decoded sheets once completed")
	cmd.Flags().BoolVar(&msgpack, "msgpack", false, "Fetch data as MessagePack")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	return cmd
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var username, email string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account and print a token for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "memory" {
				return errors.New("accounts cannot be created in the in-memory store")
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.CreateUser(ctx, &models.User{Username: username, Email: email})
			if err != nil {
				return fmt.Errorf("creating user: %w", err)
			}
			tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\ntoken: %s\n", id, tok)
			return nil
		},
	}
	addCmd.Flags().StringVar(&username, "username", "", "Display name")
	addCmd.Flags().StringVar(&email, "email", "", "Email address (unique)")

	userCmd.AddCommand(addCmd)
	return userCmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [userID]",
		Short: "Issue a bearer token for an existing account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any, pretty bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
