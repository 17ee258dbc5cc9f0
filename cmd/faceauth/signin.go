package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/face-auth/internal/workflow"
)

func newSignInCmd(opts *options) *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Verify a single photo against the enrolled faces",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runSignIn(ctx, cmd, opts, showToken)
		},
	}
	cmd.Flags().BoolVar(&showToken, "show-token", false, "print the session token")
	return cmd
}

func runSignIn(ctx context.Context, cmd *cobra.Command, opts *options, showToken bool) error {
	out := cmd.OutOrStdout()
	a, err := workflow.NewAuthentication(opts.gateway(), opts.camera(), opts.workflowOptions()...)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Send(workflow.StartCamera{}); err != nil {
		return err
	}
	s, err := a.WaitFor(ctx, func(s workflow.AuthenticationSnapshot) bool { return !s.CameraLoading })
	if err != nil {
		return err
	}
	if s.State != workflow.AwaitingCapture {
		return fmt.Errorf("camera unavailable: %v", s.Err)
	}

	if err := a.Capture(); err != nil {
		return err
	}
	s, err = a.WaitFor(ctx, func(s workflow.AuthenticationSnapshot) bool {
		return s.State == workflow.Succeeded || s.State == workflow.Failed
	})
	if err != nil {
		return err
	}
	if s.State == workflow.Failed {
		return fmt.Errorf("authentication failed: %w", s.Err)
	}

	fmt.Fprintf(out, "Welcome back! Matched face %s (%.1f%% similar)\n", s.Match.FaceID, s.Match.Similarity)
	if showToken {
		fmt.Fprintln(out, s.Token)
	}
	return nil
}
