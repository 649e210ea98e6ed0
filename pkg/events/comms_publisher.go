package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// SubjectRoot overrides the event subject root (e.g. from IPC_EVENT_SUBJECT).
	SubjectRoot string
}

// CommsPublisher publishes desktop events to COMMS subjects.
type CommsPublisher struct {
	nc          *comms.Conn
	subjectRoot string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	root := commsutil.SubjectEvents
	if opts != nil && opts.SubjectRoot != "" {
		root = opts.SubjectRoot
	}
	return &CommsPublisher{nc: nc, subjectRoot: root}
}

// Publish publishes an event to its topic subject and to the root subject.
func (p *CommsPublisher) Publish(_ context.Context, event *DesktopEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	topicSubject := commsutil.BuildEventSubject(p.subjectRoot, event.Topic)
	if err := p.nc.Publish(topicSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, topicSubject, err))
		return err
	}

	if err := p.nc.Publish(p.subjectRoot, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.subjectRoot, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s", commsPublisherLogPrefix, event.Topic))
	return nil
}
