package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	apiclient "github.com/Sid-Lais/cloudara/pkg/api/client"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd(a), newProjectLookupCmd(a), newProjectDomainCmd(a))
	return cmd
}

func newProjectCreateCmd(a *app) *cobra.Command {
	var name, gitURL string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a git repository as a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(gitURL) == "" {
				return errors.New("--git is required")
			}
			project, err := a.client.CreateProject(cmd.Context(), name, gitURL)
			if err != nil {
				return err
			}
			return a.printProject(project)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&gitURL, "git", "", "git repository URL")
	return cmd
}

func newProjectLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <subdomain>",
		Short: "Show the project served at a subdomain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.client.LookupProject(cmd.Context(), args[0])
			if errors.Is(err, apiclient.ErrNotFound) {
				return errors.New("no project at subdomain " + args[0])
			}
			if err != nil {
				return err
			}
			status, deployment := "-", "-"
			if summary.LatestDeployment != nil {
				status, deployment = summary.LatestDeployment.Status, summary.LatestDeployment.ID
			}
			return a.out.emit(summary,
				[]string{"ID", "NAME", "SUBDOMAIN", "LATEST DEPLOYMENT", "STATUS"},
				[][]string{{summary.ID, orDash(summary.Name), summary.Subdomain, deployment, status}},
			)
		},
	}
}

func newProjectDomainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "domain <projectId> <domain>",
		Short: "Attach a custom domain to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := a.client.AttachDomain(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.printProject(project)
		},
	}
}

func (a *app) printProject(p apiclient.Project) error {
	return a.out.emit(p,
		[]string{"ID", "NAME", "SUBDOMAIN", "DOMAIN", "GIT URL"},
		[][]string{{p.ID, orDash(p.Name), p.Subdomain, orDash(p.CustomDomain), p.GitURL}},
	)
}
