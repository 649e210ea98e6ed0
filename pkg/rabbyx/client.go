// Package rabbyx forwards wallet RPC queries to the rabbyx engine over COMMS.
package rabbyx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const logPrefix = "rabbyx:client"

// DefaultTimeout bounds a query when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Requester is the part of *comms.Conn the client needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subject string, data []byte) (*comms.Msg, error)
}

// Client forwards queries by COMMS request/reply.
type Client struct {
	conn    Requester
	subject string
	timeout time.Duration
}

// NewClient creates a Client. An empty subject uses commsutil.SubjectRabbyxRPC.
func NewClient(conn Requester, subject string, timeout time.Duration) *Client {
	if subject == "" {
		subject = commsutil.SubjectRabbyxRPC
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{conn: conn, subject: subject, timeout: timeout}
}

// Query stamps a fresh rpcId onto q and forwards it. Engine-side errors come
// back in the response; transport failures are returned as errors.
func (c *Client) Query(ctx context.Context, q ipc.RabbyxRPCQuery) (*ipc.RabbyxQueryResponse, error) {
	if q.Method == "" {
		return nil, ipc.NewChannelError(ipc.CodeInvalidArgument, "method is required")
	}
	if q.Params == nil {
		q.Params = []json.RawMessage{}
	}
	q.RPCID = uuid.NewString()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := commsutil.EncodePayload(q)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidArgument, "encode query: %v", err)
	}

	slog.Debug(fmt.Sprintf("%s - forwarding %s rpcId=%s", logPrefix, q.Method, q.RPCID))
	msg, err := c.conn.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		if errors.Is(err, comms.ErrNoResponders) {
			return nil, ipc.Errorf(ipc.CodeUnavailable, "rabbyx engine is not running")
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, comms.ErrTimeout) {
			return nil, ipc.Errorf(ipc.CodeUnavailable, "rabbyx query %s timed out", q.Method)
		}
		return nil, ipc.Errorf(ipc.CodeUnavailable, "rabbyx query %s: %v", q.Method, err)
	}

	var resp ipc.RabbyxQueryResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return nil, ipc.Errorf(ipc.CodeInternal, "decode rabbyx reply: %v", err)
	}
	return &resp, nil
}
