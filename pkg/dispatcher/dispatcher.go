// Package dispatcher routes incoming IPC envelopes to the channel handler.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes invoke requests to an ipc.Handler and send-only messages to
// an ipc.SendHandler.
type Dispatcher struct {
	handler ipc.Handler
	sender  ipc.SendHandler
}

// NewDispatcher creates a new Dispatcher. sender may be nil when the process
// does not accept send-only channels.
func NewDispatcher(handler ipc.Handler, sender ipc.SendHandler) *Dispatcher {
	return &Dispatcher{handler: handler, sender: sender}
}

// Dispatch routes a request to the channel handler and returns a response.
// It never returns nil: unknown channels and malformed tuples are answered
// with a failed envelope without reaching the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, req *ipc.InvokeRequest) *ipc.InvokeResponse {
	slog.Debug(fmt.Sprintf("%s - channel=%s id=%s", logPrefix, req.Channel, req.ID))

	if !req.Channel.IsInvoke() {
		code := ipc.CodeChannelNotFound
		msg := fmt.Sprintf("Unknown channel: %s", req.Channel)
		if req.Channel.IsSend() {
			code = ipc.CodeInvalidArgument
			msg = fmt.Sprintf("Channel %s is send-only", req.Channel)
		}
		return failed(req, ipc.NewChannelError(code, msg))
	}

	switch req.Channel {
	case ipc.ChannelGetAppVersion:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetAppVersion(ctx)
		return plain(req, resp, err)

	case ipc.ChannelGetOSInfo:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetOSInfo(ctx)
		return plain(req, resp, err)

	case ipc.ChannelDetectDapp:
		var url string
		if err := ipc.DecodeArgs(req.Channel, req.Args, &url); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DetectDapp(ctx, url)
		return plain(req, resp, err)

	case ipc.ChannelDappsFetch:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsFetch(ctx)
		return plain(req, resp, err)

	case ipc.ChannelGetDapp:
		var origin string
		if err := ipc.DecodeArgs(req.Channel, req.Args, &origin); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetDapp(ctx, origin)
		return plain(req, resp, err)

	case ipc.ChannelDappsPost:
		var dapp ipc.Dapp
		if err := ipc.DecodeArgs(req.Channel, req.Args, &dapp); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsPost(ctx, dapp)
		return inBand(req, resp, err)

	case ipc.ChannelDappsPut:
		var dapp ipc.Dapp
		if err := ipc.DecodeArgs(req.Channel, req.Args, &dapp); err != nil {
			return failed(req, err)
		}
		return void(req, d.handler.DappsPut(ctx, dapp))

	case ipc.ChannelDappsReplace:
		var origins ipc.OriginList
		var dapp ipc.Dapp
		if err := ipc.DecodeArgs(req.Channel, req.Args, &origins, &dapp); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsReplace(ctx, origins, dapp)
		return inBand(req, resp, err)

	case ipc.ChannelDappsDelete:
		var dapp ipc.Dapp
		if err := ipc.DecodeArgs(req.Channel, req.Args, &dapp); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsDelete(ctx, dapp)
		return inBand(req, resp, err)

	case ipc.ChannelDappsTogglePin:
		var origins []string
		var nextPinned bool
		if err := ipc.DecodeArgs(req.Channel, req.Args, &origins, &nextPinned); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsTogglePin(ctx, origins, nextPinned)
		return inBand(req, resp, err)

	case ipc.ChannelDappsSetOrder:
		var order ipc.DappsOrder
		if err := ipc.DecodeArgs(req.Channel, req.Args, &order); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsSetOrder(ctx, order)
		return inBand(req, resp, err)

	case ipc.ChannelDappsPutProtocolBinding:
		var bindings ipc.ProtocolDappBindings
		if err := ipc.DecodeArgs(req.Channel, req.Args, &bindings); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsPutProtocolBinding(ctx, bindings)
		return inBand(req, resp, err)

	case ipc.ChannelDappsFetchProtocolBinding:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.DappsFetchProtocolBinding(ctx)
		return plain(req, resp, err)

	case ipc.ChannelGetDesktopAppState:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetDesktopAppState(ctx)
		return plain(req, resp, err)

	case ipc.ChannelPutDesktopAppState:
		var patch ipc.DesktopAppStatePatch
		if err := ipc.DecodeArgs(req.Channel, req.Args, &patch); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.PutDesktopAppState(ctx, patch)
		return plain(req, resp, err)

	case ipc.ChannelToggleActiveTabAnimating:
		var visible bool
		if err := ipc.DecodeArgs(req.Channel, req.Args, &visible); err != nil {
			return failed(req, err)
		}
		return void(req, d.handler.ToggleActiveTabAnimating(ctx, visible))

	case ipc.ChannelCheckProxyConfig:
		var check ipc.CheckProxyConfigRequest
		if err := ipc.DecodeArgs(req.Channel, req.Args, &check); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.CheckProxyConfig(ctx, check)
		return plain(req, resp, err)

	case ipc.ChannelGetProxyConfig:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetProxyConfig(ctx)
		return plain(req, resp, err)

	case ipc.ChannelApplyProxyConfig:
		var conf ipc.AppProxyConf
		if err := ipc.DecodeArgs(req.Channel, req.Args, &conf); err != nil {
			return failed(req, err)
		}
		return void(req, d.handler.ApplyProxyConfig(ctx, conf))

	case ipc.ChannelGetHIDDevices:
		var query ipc.DeviceQuery
		if err := ipc.DecodeArgs(req.Channel, req.Args, &query); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetHIDDevices(ctx, query)
		return inBand(req, resp, err)

	case ipc.ChannelGetUSBDevices:
		var query ipc.DeviceQuery
		if err := ipc.DecodeArgs(req.Channel, req.Args, &query); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetUSBDevices(ctx, query)
		return inBand(req, resp, err)

	case ipc.ChannelConfirmSelectedDevice:
		var confirm ipc.ConfirmSelectedDeviceRequest
		if err := ipc.DecodeArgs(req.Channel, req.Args, &confirm); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.ConfirmSelectedDevice(ctx, confirm)
		return inBand(req, resp, err)

	case ipc.ChannelParseFavicon:
		var url string
		if err := ipc.DecodeArgs(req.Channel, req.Args, &url); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.ParseFavicon(ctx, url)
		return inBand(req, resp, err)

	case ipc.ChannelPreviewDapp:
		var url string
		if err := ipc.DecodeArgs(req.Channel, req.Args, &url); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.PreviewDapp(ctx, url)
		return inBand(req, resp, err)

	case ipc.ChannelGetAppDynamicConfig:
		if err := ipc.DecodeArgs(req.Channel, req.Args); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.GetAppDynamicConfig(ctx)
		return inBand(req, resp, err)

	case ipc.ChannelRabbyxRPCQuery:
		var query ipc.RabbyxRPCQuery
		if err := ipc.DecodeArgs(req.Channel, req.Args, &query); err != nil {
			return failed(req, err)
		}
		resp, err := d.handler.RabbyxRPCQuery(ctx, query)
		return inBand(req, resp, err)

	default:
		// Reached only when a channel joins the closed set without a case here.
		slog.Error(fmt.Sprintf("%s - no route for declared channel %s", logPrefix, req.Channel))
		return failed(req, ipc.Errorf(ipc.CodeInternal, "No route for channel: %s", req.Channel))
	}
}

// DispatchSend routes a send-only message. Errors are returned for logging;
// the caller never waits for them.
func (d *Dispatcher) DispatchSend(ctx context.Context, msg *ipc.SendMessage) error {
	slog.Debug(fmt.Sprintf("%s - send channel=%s", logPrefix, msg.Channel))

	if !msg.Channel.IsSend() {
		return ipc.Errorf(ipc.CodeChannelNotFound, "Unknown send channel: %s", msg.Channel)
	}
	if d.sender == nil {
		return ipc.Errorf(ipc.CodeUnavailable, "Send channels are not served by this process")
	}

	switch msg.Channel {
	case ipc.ChannelOpenExternalURL:
		var url string
		if err := ipc.DecodeArgs(msg.Channel, msg.Args, &url); err != nil {
			return err
		}
		return d.sender.OpenExternalURL(ctx, url)
	case ipc.ChannelResetApp:
		if err := ipc.DecodeArgs(msg.Channel, msg.Args); err != nil {
			return err
		}
		return d.sender.ResetApp(ctx)
	default:
		return ipc.Errorf(ipc.CodeInternal, "No route for send channel: %s", msg.Channel)
	}
}

// --- helpers ---

func failed(req *ipc.InvokeRequest, err error) *ipc.InvokeResponse {
	return &ipc.InvokeResponse{
		ID:      req.ID,
		Channel: req.Channel,
		Ok:      false,
		Error:   ipc.AsChannelError(err).Detail(),
	}
}

// plain answers channels whose record has no error field; failures live only
// in the envelope.
func plain[T any](req *ipc.InvokeRequest, resp *T, err error) *ipc.InvokeResponse {
	if err != nil {
		logFailure(req, err)
		return failed(req, err)
	}
	if resp == nil {
		resp = new(T)
	}
	return &ipc.InvokeResponse{ID: req.ID, Channel: req.Channel, Ok: true, Result: resp}
}

// inBand answers channels whose record carries an error field. On failure the
// record is still returned, with the error folded into it.
func inBand[T any, P interface {
	*T
	ipc.ErrorCarrier
}](req *ipc.InvokeRequest, resp P, err error) *ipc.InvokeResponse {
	if resp == nil {
		resp = P(new(T))
	}
	if err != nil {
		logFailure(req, err)
		chErr := ipc.AsChannelError(err)
		resp.SetError(chErr.Message)
		return &ipc.InvokeResponse{
			ID:      req.ID,
			Channel: req.Channel,
			Ok:      false,
			Result:  resp,
			Error:   chErr.Detail(),
		}
	}
	return &ipc.InvokeResponse{ID: req.ID, Channel: req.Channel, Ok: true, Result: resp}
}

func void(req *ipc.InvokeRequest, err error) *ipc.InvokeResponse {
	if err != nil {
		logFailure(req, err)
		return failed(req, err)
	}
	return &ipc.InvokeResponse{ID: req.ID, Channel: req.Channel, Ok: true}
}

func logFailure(req *ipc.InvokeRequest, err error) {
	chErr := ipc.AsChannelError(err)
	if chErr.Retryable() {
		slog.Warn(fmt.Sprintf("%s - channel=%s id=%s failed: %v", logPrefix, req.Channel, req.ID, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - channel=%s id=%s rejected: %v", logPrefix, req.Channel, req.ID, err))
}
