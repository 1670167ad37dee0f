// Package notify streams build progress to a socket.io server.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/xbuildgo/internal/ctxlog"
	"github.com/vk/xbuildgo/internal/executor"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted to the server.
const (
	EventTargetState   = "target_state"
	EventBuildFinished = "build_finished"
)

// DefaultConnectTimeout bounds the wait for the initial connection.
const DefaultConnectTimeout = 15 * time.Second

// Config configures the connection.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Notifier is an executor.Observer that emits every state change.
type Notifier struct {
	project string
	emit    func(event string, payload any)
	close   func()
}

// New returns a notifier that hands events to emit. It is the seam used by
// Connect and by tests.
func New(project string, emit func(event string, payload any)) *Notifier {
	return &Notifier{project: project, emit: emit, close: func() {}}
}

// Connect dials the server and waits until the connection is established.
func Connect(ctx context.Context, cfg Config, project string) (*Notifier, error) {
	logger := ctxlog.FromContext(ctx).With("url", cfg.URL)

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", cfg.URL)
	}

	opts := socket.DefaultOptions()
	if parsed.Path != "" && parsed.Path != "/" {
		opts.SetPath(parsed.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				connected <- err
				return
			}
		}
		connected <- fmt.Errorf("connect_error: %v", errs)
	})
	io.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
	logger.Info("Connected to notify server.", "sid", io.Id())

	n := New(project, func(event string, payload any) {
		io.Emit(event, payload)
	})
	n.close = func() { io.Disconnect() }
	return n, nil
}

// OnEvent implements executor.Observer.
func (n *Notifier) OnEvent(ev executor.Event) {
	payload := map[string]any{
		"project": n.project,
		"target":  ev.Target,
		"from":    ev.From.String(),
		"to":      ev.To.String(),
		"time":    ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}
	n.emit(EventTargetState, payload)
}

// Finished emits the final tally of a run.
func (n *Notifier) Finished(succeeded, failed, exitCode int) {
	n.emit(EventBuildFinished, map[string]any{
		"project":   n.project,
		"succeeded": succeeded,
		"failed":    failed,
		"exitCode":  exitCode,
	})
}

// Close disconnects from the server.
func (n *Notifier) Close() {
	n.close()
}
