package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alnajaar/nilelink-sub003/internal/api"
	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

type publishOptions struct {
	url        string
	eventType  string
	payload    string
	source     string
	priority   string
	scope      string
	branchID   string
	persistent bool
	wait       bool
	token      string
	secret     string
	timeout    time.Duration
}

func newPublishCmd() *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one event to a running bus over HTTP",
		Example: `  nilebus publish --type ORDER_CREATED --payload '{"orderId":"o-1"}'
  nilebus publish --type PAYMENT_FAILED --priority HIGH --persistent --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080", "Base URL of the nilebus HTTP API")
	f.StringVarP(&opts.eventType, "type", "t", "", "Event type (required)")
	f.StringVarP(&opts.payload, "payload", "p", "", "JSON payload")
	f.StringVar(&opts.source, "source", "cli", "Metadata source")
	f.StringVar(&opts.priority, "priority", "", "LOW, NORMAL, HIGH or CRITICAL")
	f.StringVar(&opts.scope, "scope", "", "LOCAL, SESSION, BRANCH, BUSINESS or GLOBAL")
	f.StringVar(&opts.branchID, "branch", "", "Metadata branch ID")
	f.BoolVar(&opts.persistent, "persistent", false, "Mark the event persistent")
	f.BoolVar(&opts.wait, "wait", false, "Reply only after the bus has processed the event")
	f.StringVar(&opts.token, "token", "", "Bearer token")
	f.StringVar(&opts.secret, "secret", "", "Sign a short-lived token with this HS256 secret")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func runPublish(cmd *cobra.Command, opts publishOptions) error {
	e, err := buildEvent(opts)
	if err != nil {
		return err
	}

	token := opts.token
	if token == "" && opts.secret != "" {
		token, err = api.IssueToken([]byte(opts.secret), "nilebus-cli", time.Minute)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	reply, err := postEvent(ctx, http.DefaultClient, opts.url, token, opts.wait, e)
	if err != nil {
		return err
	}
	cmd.Println(reply)
	return nil
}

func buildEvent(opts publishOptions) (event.Event, error) {
	var payload any
	if opts.payload != "" {
		if err := json.Unmarshal([]byte(opts.payload), &payload); err != nil {
			return event.Event{}, fmt.Errorf("invalid --payload: %w", err)
		}
	}

	md := event.Metadata{
		Source:     opts.source,
		BranchID:   opts.branchID,
		Persistent: opts.persistent,
	}
	if opts.priority != "" {
		p, err := event.ParsePriority(opts.priority)
		if err != nil {
			return event.Event{}, err
		}
		md.Priority = p
	}
	if opts.scope != "" {
		sc, err := event.ParseScope(opts.scope)
		if err != nil {
			return event.Event{}, err
		}
		md.Scope = sc
	}
	return event.Event{Type: event.Type(opts.eventType), Payload: payload, Metadata: md}, nil
}

// postEvent sends e to POST /v1/events and returns the response body.
func postEvent(ctx context.Context, client *http.Client, base, token string, wait bool, e event.Event) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}

	url := strings.TrimRight(base, "/") + "/v1/events"
	if wait {
		url += "?wait=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", url, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("publish rejected: %s: %s", resp.Status, bytes.TrimSpace(reply))
	}
	return string(bytes.TrimSpace(reply)), nil
}
