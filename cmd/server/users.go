package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docket/internal/auth"
	"docket/internal/workflow/models"
	workflowstore "docket/internal/workflow/store"
	id "docket/pkg/domain"
)

func userCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var name, email, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account with a global role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			user, err := newUser(name, email, role, time.Now().UTC())
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := workflowstore.NewPostgres(db).CreateUser(cmd.Context(), user); err != nil {
				return err
			}
			cmd.Println(user.ID.String())
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&role, "role", string(models.RoleCitizen), "global role")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")

	cmd.AddCommand(add)
	return cmd
}

func newUser(name, email, role string, now time.Time) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, fmt.Errorf("--name is required")
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("--email %q is not an email address", email)
	}
	r, err := models.ParseGlobalRole(role)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:          id.UserID(uuid.New()),
		DisplayName: name,
		Email:       strings.ToLower(email),
		Role:        r,
		CreatedAt:   now,
	}, nil
}

func tokenCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API tokens",
	}

	var userID string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			uid, err := id.ParseUserID(userID)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tokens, err := auth.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			if err != nil {
				return err
			}
			token, _, err := tokens.Issue(uid, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id the token acts for")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}
