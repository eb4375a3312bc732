package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// WireDispatcher hands an already-built accountable wire message off for
// delivery to a rail leg's external endpoint. It never
// affects the bridge's own state machine or receipt semantics: the
// unified receipt still only reflects the adapter's own settlement
// result, recorded synchronously after Adapter.Settle returns.
type WireDispatcher interface {
	Dispatch(ctx context.Context, endpoint string, wire WireMessage) error
}

// InProcessDispatcher delivers synchronously in-process: it is a no-op
// record of intent to dispatch, used when the rail adapter itself performs
// delivery (the common case for a directly-wired adapter). It is the
// default WireDispatcher.
type InProcessDispatcher struct {
	logger *slog.Logger
}

// NewInProcessDispatcher creates the default synchronous dispatcher.
func NewInProcessDispatcher(logger *slog.Logger) *InProcessDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessDispatcher{logger: logger}
}

func (d *InProcessDispatcher) Dispatch(_ context.Context, endpoint string, wire WireMessage) error {
	d.logger.Debug("bridge: dispatching wire in-process", "message_id", wire.MessageID, "endpoint", endpoint)
	return nil
}

// CloudTasksDispatcher enqueues the wire message as a Cloud Task for
// at-least-once delivery to an external rail endpoint, using the wire's
// message_id as the Cloud Tasks deduplication name. Grounded on the
// reference backend's webhook CloudDispatcher.
type CloudTasksDispatcher struct {
	client    *cloudtasks.Client
	queuePath string
	logger    *slog.Logger
}

// NewCloudTasksDispatcher creates a Cloud Tasks-backed dispatcher for the
// named queue.
func NewCloudTasksDispatcher(ctx context.Context, projectID, locationID, queueID string, logger *slog.Logger) (*CloudTasksDispatcher, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudTasksDispatcher{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		logger:    logger,
	}, nil
}

func (d *CloudTasksDispatcher) Dispatch(ctx context.Context, endpoint string, wire WireMessage) error {
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode wire message: %w", err)
	}

	req := &taskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &taskspb.Task{
			Name: d.queuePath + "/tasks/" + wire.MessageID,
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        endpoint,
					Headers:    map[string]string{"Content-Type": "application/json", "X-Wire-Message-Id": wire.MessageID},
					Body:       body,
				},
			},
		},
	}

	if _, err := d.client.CreateTask(ctx, req); err != nil {
		d.logger.Warn("bridge: cloud tasks enqueue failed", "message_id", wire.MessageID, "error", err)
		return fmt.Errorf("enqueue wire dispatch task: %w", err)
	}
	return nil
}

// Close releases the underlying Cloud Tasks client.
func (d *CloudTasksDispatcher) Close() error {
	return d.client.Close()
}
