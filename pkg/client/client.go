// Package client is the UI-side caller of the desktop IPC surface. It speaks
// the same envelope as rabby-ipcd over COMMS request/reply.
package client

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

const logPrefix = "client:client"

// DefaultTimeout bounds an invoke when ctx carries no deadline.
const DefaultTimeout = 30 * time.Second

// Conn is the part of a COMMS connection the client uses.
type Conn interface {
	RequestWithContext(ctx context.Context, subject string, data []byte) (*comms.Msg, error)
	Publish(subject string, data []byte) error
}

// Options configures a Client. Zero values use defaults.
type Options struct {
	InvokeSubject string
	SendSubject   string
	Timeout       time.Duration
}

// Client invokes channels on rabby-ipcd.
type Client struct {
	conn          Conn
	invokeSubject string
	sendSubject   string
	timeout       time.Duration
}

// New creates a Client. Pass nil for opts to use defaults.
func New(conn Conn, opts *Options) *Client {
	c := &Client{
		conn:          conn,
		invokeSubject: commsutil.SubjectInvoke,
		sendSubject:   commsutil.SubjectSend,
		timeout:       DefaultTimeout,
	}
	if opts != nil {
		if opts.InvokeSubject != "" {
			c.invokeSubject = opts.InvokeSubject
		}
		if opts.SendSubject != "" {
			c.sendSubject = opts.SendSubject
		}
		if opts.Timeout > 0 {
			c.timeout = opts.Timeout
		}
	}
	return c
}

// response mirrors ipc.InvokeResponse with the result left undecoded.
type response struct {
	ID      string           `json:"id"`
	Channel ipc.Channel      `json:"channel"`
	Ok      bool             `json:"ok"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *ipc.ErrorDetail `json:"error,omitempty"`
}

// Invoke calls an invoke channel and decodes its response record into out
// (which may be nil for void channels). A failed envelope is returned as a
// *ipc.ChannelError; for channels that report errors in-band, out is still
// populated.
func (c *Client) Invoke(ctx context.Context, ch ipc.Channel, out interface{}, args ...interface{}) error {
	if !ch.IsInvoke() {
		return ipc.Errorf(ipc.CodeChannelNotFound, "Unknown channel: %s", ch)
	}
	rawArgs, err := ipc.EncodeArgs(args...)
	if err != nil {
		return ipc.Errorf(ipc.CodeInvalidArgument, "%s: encode arguments: %v", ch, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req := ipc.InvokeRequest{ID: uuid.NewString(), Channel: ch, Args: rawArgs}
	if deadline, ok := ctx.Deadline(); ok {
		if ms := time.Until(deadline).Milliseconds(); ms > 0 {
			req.Ctx = &ipc.InvocationContext{RequestID: req.ID, TimeoutMs: int(ms)}
		}
	}

	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return ipc.Errorf(ipc.CodeInvalidArgument, "%s: encode request: %v", ch, err)
	}

	slog.Debug(fmt.Sprintf("%s - invoke %s id=%s", logPrefix, ch, req.ID))
	msg, err := c.conn.RequestWithContext(ctx, c.invokeSubject, data)
	if err != nil {
		if errors.Is(err, comms.ErrNoResponders) {
			return ipc.Errorf(ipc.CodeUnavailable, "%s: no desktop service is listening", ch)
		}
		return ipc.Errorf(ipc.CodeUnavailable, "%s: %v", ch, err)
	}

	var resp response
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return ipc.Errorf(ipc.CodeInternal, "%s: decode response: %v", ch, err)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return ipc.Errorf(ipc.CodeInternal, "%s: decode result: %v", ch, err)
		}
	}
	if !resp.Ok {
		return detailError(resp.Error)
	}
	return nil
}

// Send publishes a send-only message. There is no reply.
func (c *Client) Send(ch ipc.Channel, args ...interface{}) error {
	if !ch.IsSend() {
		return ipc.Errorf(ipc.CodeChannelNotFound, "Unknown send channel: %s", ch)
	}
	rawArgs, err := ipc.EncodeArgs(args...)
	if err != nil {
		return ipc.Errorf(ipc.CodeInvalidArgument, "%s: encode arguments: %v", ch, err)
	}
	data, err := commsutil.EncodePayload(ipc.SendMessage{Channel: ch, Args: rawArgs})
	if err != nil {
		return ipc.Errorf(ipc.CodeInvalidArgument, "%s: encode message: %v", ch, err)
	}
	if err := c.conn.Publish(c.sendSubject, data); err != nil {
		return ipc.Errorf(ipc.CodeUnavailable, "%s: %v", ch, err)
	}
	return nil
}

func detailError(d *ipc.ErrorDetail) *ipc.ChannelError {
	if d == nil {
		return ipc.NewChannelError(ipc.CodeInternal, "request failed without error detail")
	}
	return &ipc.ChannelError{Code: d.Code, Message: d.Message, Details: d.Details}
}
