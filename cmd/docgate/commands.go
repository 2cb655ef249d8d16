package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docgate/internal/auth"
	"docgate/internal/authpw"
	"docgate/internal/rbac"
	"docgate/internal/security"
	"docgate/internal/session"
)

var (
	reviewStatus string
	reviewer     string
	reviewNotes  string
	tokenName    string
	tokenRole    string
	tokenValue   string

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync and transformation pass",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}

	reviewCmd = &cobra.Command{
		Use:   "review",
		Short: "Inspect and decide held outputs",
	}
	reviewListCmd = &cobra.Command{
		Use:   "list",
		Short: "List review items, optionally filtered by --status",
		Args:  cobra.NoArgs,
		RunE:  runReviewList,
	}
	reviewApproveCmd = &cobra.Command{
		Use:   "approve [id]",
		Short: "Approve a pending item and publish its output",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewDecision(true),
	}
	reviewRejectCmd = &cobra.Command{
		Use:   "reject [id]",
		Short: "Reject a pending item",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewDecision(false),
	}

	scanCmd = &cobra.Command{
		Use:   "scan [file]",
		Short: "Scan a file for secrets; exits non-zero on critical findings",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage reviewer API tokens",
	}
	tokenIssueCmd = &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed reviewer token",
		Args:  cobra.NoArgs,
		RunE:  runTokenIssue,
	}
	tokenHashCmd = &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its hash for the reviewers file",
		Args:  cobra.NoArgs,
		RunE:  runTokenHash,
	}
	tokenRevokeCmd = &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a reviewer token in the shared Redis revocation list",
		Args:  cobra.NoArgs,
		RunE:  runTokenRevoke,
	}
)

func init() {
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", "", "pending, approved or rejected")
	for _, cmd := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd} {
		cmd.Flags().StringVar(&reviewer, "reviewer", "", "name recorded with the decision")
		cmd.Flags().StringVar(&reviewNotes, "notes", "", "decision notes")
		_ = cmd.MarkFlagRequired("reviewer")
	}
	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd, reviewRejectCmd)

	tokenIssueCmd.Flags().StringVar(&tokenName, "name", "", "reviewer name")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", string(rbac.RoleReviewer), "viewer, reviewer or admin")
	_ = tokenIssueCmd.MarkFlagRequired("name")
	tokenRevokeCmd.Flags().StringVar(&tokenValue, "token", "", "token to revoke")
	_ = tokenRevokeCmd.MarkFlagRequired("token")
	tokenCmd.AddCommand(tokenIssueCmd, tokenRevokeCmd, tokenHashCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := buildReviews(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := buildPipeline(ctx, cfg, c); err != nil {
		return err
	}
	summary, err := c.runner.RunOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runReviewList(cmd *cobra.Command, args []string) error {
	c, err := buildReviews(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	items, err := c.service().ListReviews(cmd.Context(), reviewStatus)
	if err != nil {
		return err
	}
	return printJSON(items)
}

func runReviewDecision(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := buildReviews(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()
		svc := c.service()
		if approve {
			decision, err := svc.Approve(cmd.Context(), args[0], reviewer, reviewNotes)
			if err != nil {
				return err
			}
			return printJSON(decision)
		}
		decision, err := svc.Reject(cmd.Context(), args[0], reviewer, reviewNotes)
		if err != nil {
			return err
		}
		return printJSON(decision)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	scanner, err := security.NewSecretScanner()
	if err != nil {
		return err
	}
	result := scanner.Scan(string(data))
	if err := printJSON(result); err != nil {
		return err
	}
	if result.CriticalFound > 0 {
		return fmt.Errorf("%d critical secret(s) found in %s", result.CriticalFound, args[0])
	}
	return nil
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	token, claims, err := issuer.Issue(tokenName, rbac.Role(tokenRole))
	if err != nil {
		return err
	}
	logger.Info("token issued", "sub", claims.Sub, "role", claims.Role, "fingerprint", auth.Fingerprint(token))
	fmt.Println(token)
	return nil
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required to revoke tokens from the command line")
	}
	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	claims, err := issuer.Verify(tokenValue)
	if err != nil {
		return err
	}
	store, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Revoke(cmd.Context(), claims.JTI, session.RevokedToken{Subject: claims.Sub, RevokedBy: "cli"}, time.Unix(claims.Exp, 0))
	if err != nil {
		return err
	}
	logger.Info("token revoked", "sub", claims.Sub, "fingerprint", auth.Fingerprint(tokenValue))
	return nil
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	hash, err := authpw.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
