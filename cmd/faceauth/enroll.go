package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/face-auth/internal/workflow"
)

func newEnrollCmd(opts *options) *cobra.Command {
	var (
		name        string
		email       string
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Capture one photo per pose and register them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runEnroll(ctx, cmd, opts, name, email, maxAttempts)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().IntVar(&maxAttempts, "attempts", 3, "captures tried per pose before giving up")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runEnroll(ctx context.Context, cmd *cobra.Command, opts *options, name, email string, maxAttempts int) error {
	out := cmd.OutOrStdout()
	e, err := workflow.NewEnrollment(opts.gateway(), opts.camera(), opts.workflowOptions()...)
	if err != nil {
		return err
	}
	defer e.Close()

	for field, value := range map[workflow.IdentityField]string{
		workflow.FieldDisplayName:  name,
		workflow.FieldEmailAddress: email,
	} {
		ev, err := workflow.NewUpdateIdentity(field, value)
		if err != nil {
			return err
		}
		if err := e.Send(ev); err != nil {
			return err
		}
	}
	if err := e.Send(workflow.Start{}); err != nil {
		return err
	}

	s, err := e.WaitFor(ctx, func(s workflow.EnrollmentSnapshot) bool { return s.State != workflow.StartingCamera })
	if err != nil {
		return err
	}
	if !s.CameraActive {
		return fmt.Errorf("camera unavailable: %v", s.Err)
	}

	bar := progressbar.NewOptions(len(s.Poses),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	attempts := 0
	for s.State == workflow.CameraActive {
		pose, _ := s.CurrentPose()
		if attempts == maxAttempts {
			return fmt.Errorf("pose %q: giving up after %d attempts: %v", pose.Name, attempts, s.Err)
		}
		bar.Describe(fmt.Sprintf("%s %s", pose.Icon, pose.Instruction))
		attempts++

		before := s.PoseIndex
		if err := e.Capture(); err != nil {
			return err
		}
		s, err = e.WaitFor(ctx, func(s workflow.EnrollmentSnapshot) bool { return s.State != workflow.ValidatingPose })
		if err != nil {
			return err
		}
		if s.PoseIndex > before {
			attempts = 0
			_ = bar.Add(1)
		} else if s.Err != nil {
			fmt.Fprintf(out, "\n%s: %s, retrying\n", pose.Name, s.Err.Message)
		}
	}
	_ = bar.Finish()

	if s.State != workflow.AllPosesComplete {
		return fmt.Errorf("unexpected state %s", s.State)
	}
	if err := e.Send(workflow.Submit{}); err != nil {
		return err
	}
	s, err = e.WaitFor(ctx, func(s workflow.EnrollmentSnapshot) bool { return !s.Submitting })
	if err != nil {
		return err
	}
	if s.State != workflow.Done {
		if s.Err != nil {
			return fmt.Errorf("registration failed: %w", s.Err)
		}
		return errors.New("registration failed")
	}

	fmt.Fprintf(out, "Enrolled %s <%s> with %d photos\n", s.Identity.DisplayName, s.Identity.EmailAddress, len(s.Accepted))
	return nil
}
