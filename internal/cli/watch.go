package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

const (
	TransportWebSocket = "ws"
	TransportSSE       = "sse"
	TransportPoll      = "poll"

	maxBackoff = 30 * time.Second
)

var (
	watchServer       string
	watchAgentID      int64
	watchOperatorID   string
	watchRole         string
	watchTransport    string
	watchPollInterval time.Duration
	watchHeartbeats   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow an agent's live events",
	Long: "Follow an agent's run status and verification prompts. Falls back to polling\n" +
		"when the event stream is unavailable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchAgentID <= 0 {
			return fmt.Errorf("--agent is required")
		}
		switch watchTransport {
		case TransportWebSocket, TransportSSE, TransportPoll:
		default:
			return fmt.Errorf("unknown transport %q", watchTransport)
		}

		ctx, stop := signalContext()
		defer stop()

		c := &console{
			baseURL:    strings.TrimSuffix(watchServer, "/"),
			agentID:    watchAgentID,
			operatorID: watchOperatorID,
			role:       watchRole,
			heartbeats: watchHeartbeats,
			out:        cmd.OutOrStdout(),
			httpClient: &http.Client{Timeout: 10 * time.Second},
		}
		return c.run(ctx, watchTransport, watchPollInterval)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:8080", "operator API address")
	watchCmd.Flags().Int64Var(&watchAgentID, "agent", 0, "agent id to follow")
	watchCmd.Flags().StringVar(&watchOperatorID, "operator", os.Getenv("USER"), "operator id sent as X-Operator-ID")
	watchCmd.Flags().StringVar(&watchRole, "role", "viewer", "operator role sent as X-Operator-Role")
	watchCmd.Flags().StringVar(&watchTransport, "transport", TransportWebSocket, "ws, sse or poll")
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", 2*time.Second, "polling interval")
	watchCmd.Flags().BoolVar(&watchHeartbeats, "heartbeats", false, "print heartbeat events")
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow, color.Bold)
	errColor  = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
	dimColor  = color.New(color.Faint)
)

// sseEvent is one parsed event of an SSE stream.
type sseEvent struct {
	Event string
	Data  string
}

// console renders one agent's events for an operator.
type console struct {
	baseURL    string
	agentID    int64
	operatorID string
	role       string
	heartbeats bool
	out        io.Writer
	httpClient *http.Client

	// last polled state, to print changes only
	lastStatus    domain.RuntimeStatus
	lastChallenge string
}

func (c *console) run(ctx context.Context, transport string, pollInterval time.Duration) error {
	if transport == TransportPoll {
		return c.pollLoop(ctx, pollInterval)
	}

	backoff := time.Second
	for {
		var err error
		if transport == TransportSSE {
			err = c.streamSSE(ctx)
		} else {
			err = c.streamWebSocket(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		errColor.Fprintf(c.out, "stream lost: %v; retrying in %s\n", err, backoff)

		// Keep the operator informed while the stream is down.
		if perr := c.poll(ctx); perr != nil {
			dimColor.Fprintf(c.out, "poll failed: %v\n", perr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *console) header() http.Header {
	h := http.Header{}
	if c.operatorID != "" {
		h.Set("X-Operator-ID", c.operatorID)
	}
	if c.role != "" {
		h.Set("X-Operator-Role", c.role)
	}
	return h
}

func (c *console) agentURL(path string) string {
	return fmt.Sprintf("%s/v1/agents/%d%s", c.baseURL, c.agentID, path)
}

func (c *console) streamWebSocket(ctx context.Context) error {
	url := "ws" + strings.TrimPrefix(c.agentURL("/ws"), "http")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, c.header())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var event domain.Event
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		c.render(ctx, event)
	}
}

func (c *console) streamSSE(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.agentURL("/events"), nil)
	if err != nil {
		return err
	}
	req.Header = c.header()
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only the dial is bounded.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	err = parseSSE(resp.Body, func(e sseEvent) error {
		var event domain.Event
		if err := json.Unmarshal([]byte(e.Data), &event); err != nil {
			return fmt.Errorf("invalid %s event: %w", e.Event, err)
		}
		c.render(ctx, event)
		return nil
	})
	if err == nil {
		err = io.EOF
	}
	return err
}

// parseSSE parses an SSE stream and calls handler for each event.
func parseSSE(reader io.Reader, handler func(sseEvent) error) error {
	scanner := bufio.NewScanner(reader)
	var event sseEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = sseEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *console) render(ctx context.Context, event domain.Event) {
	ts := time.UnixMilli(event.Ts).Format("15:04:05")

	switch event.Type {
	case domain.EventTypeConnected:
		var p domain.ConnectedPayload
		json.Unmarshal(event.Payload, &p)
		okColor.Fprintf(c.out, "%s connected to agent %d (%s)\n", ts, event.AgentID, p.SubscriberID)
		// Events are not replayed; pick up whatever is pending now.
		if err := c.poll(ctx); err != nil {
			dimColor.Fprintf(c.out, "poll failed: %v\n", err)
		}

	case domain.EventTypeHeartbeat:
		if c.heartbeats {
			dimColor.Fprintf(c.out, "%s heartbeat\n", ts)
		}

	case domain.EventTypeVerificationNeeded:
		warnColor.Fprintf(c.out, "%s agent %d needs a verification code\n", ts, event.AgentID)
		if status, err := c.fetchVerification(ctx); err == nil {
			c.renderChallenge(status)
		}

	case domain.EventTypeVerificationResolved:
		var p domain.VerificationResolvedPayload
		json.Unmarshal(event.Payload, &p)
		infoColor.Fprintf(c.out, "%s verification %s (%s)\n", ts, p.Outcome, p.ChallengeID)
		c.lastChallenge = ""

	case domain.EventTypeRunStatus:
		var p domain.RunStatusPayload
		json.Unmarshal(event.Payload, &p)
		c.renderRunStatus(ts, p.Status, p.RunID)

	default:
		dimColor.Fprintf(c.out, "%s %s\n", ts, event.Type)
	}
}

func (c *console) renderRunStatus(ts string, status domain.RuntimeStatus, runID string) {
	c.lastStatus = status
	if status == domain.RuntimeStatusRunning {
		okColor.Fprintf(c.out, "%s running %s\n", ts, runID)
		return
	}
	errColor.Fprintf(c.out, "%s stopped\n", ts)
}

func (c *console) renderChallenge(status *domain.ChallengeStatus) {
	if !status.NeedsCode {
		return
	}
	c.lastChallenge = status.ChallengeID
	warnColor.Fprintf(c.out, "  challenge %s: %ds left to submit the code\n",
		status.ChallengeID, status.RemainingMs/1000)
}

func (c *console) pollLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.poll(ctx); err != nil && ctx.Err() == nil {
			dimColor.Fprintf(c.out, "poll failed: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll reads run status and the verification view, printing what changed.
func (c *console) poll(ctx context.Context) error {
	var run domain.RunStatusResponse
	if err := c.getJSON(ctx, "/status", &run); err != nil {
		return err
	}
	if run.Status != c.lastStatus {
		c.renderRunStatus(time.Now().Format("15:04:05"), run.Status, run.RunID)
	}

	status, err := c.fetchVerification(ctx)
	if err != nil {
		return err
	}
	if status.NeedsCode && status.ChallengeID != c.lastChallenge {
		warnColor.Fprintf(c.out, "%s agent %d needs a verification code\n", time.Now().Format("15:04:05"), c.agentID)
		c.renderChallenge(status)
	}
	if !status.NeedsCode {
		c.lastChallenge = ""
	}
	return nil
}

func (c *console) fetchVerification(ctx context.Context) (*domain.ChallengeStatus, error) {
	var status domain.ChallengeStatus
	if err := c.getJSON(ctx, "/verification", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *console) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.agentURL(path), nil)
	if err != nil {
		return err
	}
	req.Header = c.header()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
