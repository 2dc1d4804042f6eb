package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	apiclient "github.com/Sid-Lais/cloudara/pkg/api/client"
)

func newLogsCmd(a *app) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <deploymentId>",
		Short: "Print the build log of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				final, err := a.followLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return finalError(final)
			}
			return a.printHistory(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new lines until the deployment finishes")
	return cmd
}

func (a *app) printHistory(ctx context.Context, deploymentID string) error {
	events, err := a.client.FetchLogs(ctx, deploymentID)
	if err != nil {
		return err
	}
	for _, e := range events {
		a.out.line(e.Log)
	}
	return nil
}

type streamFrame struct {
	Log   string `json:"log"`
	Error string `json:"error"`
}

// followLogs subscribes to the live channel, prints the stored history and
// then live lines until the deployment is terminal. Lines published between
// subscribing and reading history may print twice.
func (a *app) followLogs(ctx context.Context, deploymentID string) (apiclient.Deployment, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.client.WebsocketURL(), nil)
	if err != nil {
		return apiclient.Deployment{}, fmt.Errorf("connect log stream: %w", err)
	}
	defer conn.Close()

	channel := "logs:" + deploymentID
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "channel": channel}); err != nil {
		return apiclient.Deployment{}, fmt.Errorf("subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	frames := make(chan streamFrame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f streamFrame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := a.printHistory(ctx, deploymentID); err != nil {
		return apiclient.Deployment{}, err
	}
	last, err := a.client.GetDeployment(ctx, deploymentID)
	if err != nil {
		return apiclient.Deployment{}, err
	}

	var grace <-chan time.Time
	if last.Terminal() {
		grace = time.After(0)
	}
	ticker := time.NewTicker(a.pollEvery)
	defer ticker.Stop()

	ack := "Subscribed to " + channel
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-grace:
			return last, nil
		case err := <-readErr:
			if grace != nil {
				return last, nil
			}
			return last, fmt.Errorf("log stream closed: %w", err)
		case f := <-frames:
			if f.Error != "" {
				return last, errors.New("log stream: " + f.Error)
			}
			if f.Log == ack {
				continue
			}
			a.out.line(f.Log)
		case <-ticker.C:
			if grace != nil {
				continue
			}
			d, err := a.client.GetDeployment(ctx, deploymentID)
			if err != nil {
				fmt.Fprintf(a.stderr, "warning: status check failed: %v\n", err)
				continue
			}
			last = d
			if d.Terminal() {
				grace = time.After(a.grace)
			}
		}
	}
}
