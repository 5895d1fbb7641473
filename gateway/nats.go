package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// HeaderKey carries Target.Key on a NATS request.
	HeaderKey = "Workflow-Key"
	// HeaderError carries a handler failure on a NATS reply.
	HeaderError = "Workflow-Error"
)

// Subject returns the NATS subject that serves a target's method:
// <prefix>.<workflow type>.<method>.
func Subject(prefix string, target Target) string {
	return prefix + "." + target.WorkflowType + "." + target.Method
}

func parseSubject(prefix, subject string) (workflowType, method string, err error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", "", fmt.Errorf("subject %q outside prefix %q", subject, prefix)
	}
	workflowType, method, ok = strings.Cut(rest, ".")
	if !ok || workflowType == "" || method == "" || strings.Contains(method, ".") {
		return "", "", fmt.Errorf("malformed subject %q", subject)
	}
	return workflowType, method, nil
}

// NATSGateway calls workflows hosted by another process through NATS
// request/reply.
type NATSGateway struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// NewNATSGateway returns a Gateway publishing under prefix whose calls time
// out after timeout. A zero timeout selects DefaultCallTimeout.
func NewNATSGateway(nc *nats.Conn, prefix string, timeout time.Duration) *NATSGateway {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &NATSGateway{nc: nc, prefix: prefix, timeout: timeout}
}

// Call implements Gateway.
func (g *NATSGateway) Call(ctx context.Context, target Target, payload []byte) ([]byte, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	msg := nats.NewMsg(Subject(g.prefix, target))
	msg.Header.Set(HeaderKey, target.Key)
	msg.Data = payload

	resp, err := g.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, callFailed(target, err)
	}
	if remote := resp.Header.Get(HeaderError); remote != "" {
		return nil, callFailed(target, errors.New(remote))
	}
	return resp.Data, nil
}

// callContext bounds ctx by the gateway timeout. An earlier deadline on ctx
// still wins.
func (g *NATSGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// ServeNATS answers NATS requests under prefix by calling router. Each
// request is served on its own goroutine so a slow instance does not hold up
// the others.
func ServeNATS(nc *nats.Conn, prefix string, router *Router, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return nc.Subscribe(prefix+".>", func(msg *nats.Msg) {
		go func() {
			reply := nats.NewMsg(msg.Reply)

			workflowType, method, err := parseSubject(prefix, msg.Subject)
			if err == nil {
				target := Target{
					WorkflowType: workflowType,
					Key:          msg.Header.Get(HeaderKey),
					Method:       method,
				}
				reply.Data, err = router.Call(context.Background(), target, msg.Data)
			}
			if err != nil {
				reply.Header.Set(HeaderError, err.Error())
			}

			if err := msg.RespondMsg(reply); err != nil {
				logger.Error("failed to respond to workflow call", "subject", msg.Subject, "error", err)
			}
		}()
	})
}
