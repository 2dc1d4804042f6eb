package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/Sid-Lais/cloudara/pkg/api/client"
)

func newDeployCmd(a *app) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "deploy <projectId>",
		Short: "Queue a deployment of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.client.Deploy(cmd.Context(), args[0])
			if err != nil {
				var apiErr apiclient.APIError
				if errors.As(err, &apiErr) && apiErr.DeploymentID != "" {
					return fmt.Errorf("deployment %s: %w", apiErr.DeploymentID, err)
				}
				return err
			}
			if err := a.out.emit(map[string]string{"deploymentId": id, "status": "QUEUED"},
				[]string{"DEPLOYMENT", "STATUS"},
				[][]string{{id, "QUEUED"}},
			); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			final, err := a.followLogs(cmd.Context(), id)
			if err != nil {
				return err
			}
			return finalError(final)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream build logs until the deployment finishes")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <deploymentId>",
		Short: "Show the status of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.client.GetDeployment(cmd.Context(), args[0])
			if errors.Is(err, apiclient.ErrNotFound) {
				return errors.New("deployment " + args[0] + " not found")
			}
			if err != nil {
				return err
			}
			return a.printDeployments(d, []apiclient.Deployment{d})
		},
	}
}

func newStuckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stuck",
		Short: "List deployments that never left the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.client.ListStuck(cmd.Context())
			if err != nil {
				return err
			}
			if list == nil {
				list = []apiclient.Deployment{}
			}
			return a.printDeployments(list, list)
		},
	}
}

func (a *app) printDeployments(v any, list []apiclient.Deployment) error {
	rows := make([][]string, 0, len(list))
	for _, d := range list {
		rows = append(rows, []string{d.ID, d.ProjectID, d.Status, d.UpdatedAt.Format(time.RFC3339), orDash(d.Reason)})
	}
	return a.out.emit(v, []string{"DEPLOYMENT", "PROJECT", "STATUS", "UPDATED", "REASON"}, rows)
}

func finalError(d apiclient.Deployment) error {
	if d.Status == "FAIL" {
		if d.Reason != "" {
			return fmt.Errorf("deployment %s failed: %s", d.ID, d.Reason)
		}
		return fmt.Errorf("deployment %s failed", d.ID)
	}
	return nil
}
