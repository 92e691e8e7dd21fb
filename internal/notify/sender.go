package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

const eventPointsBurned = "points_burned"

// Message is the JSON body published for a burn notification.
type Message struct {
	Event          string    `json:"event"`
	TenantID       string    `json:"tenant_id"`
	BusinessUnitID string    `json:"business_unit_id"`
	CustomerID     string    `json:"customer_id"`
	Phone          string    `json:"phone,omitempty"`
	Language       string    `json:"language,omitempty"`
	EntryID        string    `json:"entry_id"`
	PointsBurned   string    `json:"points_burned"`
	Discount       string    `json:"discount"`
	FinalAmount    string    `json:"final_amount"`
	Available      string    `json:"available"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage converts a notification into its wire form.
func NewMessage(notification wallet.Notification) Message {
	return Message{
		Event:          eventPointsBurned,
		TenantID:       notification.TenantID.String(),
		BusinessUnitID: notification.BusinessUnitID.String(),
		CustomerID:     notification.CustomerID.String(),
		Phone:          notification.Phone,
		Language:       notification.Language,
		EntryID:        notification.EntryID.String(),
		PointsBurned:   notification.PointsBurned.String(),
		Discount:       notification.Discount.String(),
		FinalAmount:    notification.FinalAmount.String(),
		Available:      notification.Available.String(),
		CreatedAt:      notification.CreatedAt.UTC(),
	}
}

// SQSAPI is the subset of the SQS client used by SQSSender.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSender publishes notifications to an SQS queue for the messaging service.
type SQSSender struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSender returns a sender bound to queueURL.
func NewSQSSender(client SQSAPI, queueURL string) (*SQSSender, error) {
	if client == nil {
		return nil, fmt.Errorf("notify: sqs client is nil")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("notify: sqs queue url is required")
	}
	return &SQSSender{client: client, queueURL: queueURL}, nil
}

// Send marshals the notification and sends it to the queue.
func (sender *SQSSender) Send(ctx context.Context, notification wallet.Notification) error {
	body, err := json.Marshal(NewMessage(notification))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = sender.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(sender.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(eventPointsBurned)},
			"business_unit_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(notification.BusinessUnitID.String()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send notification to sqs: %w", err)
	}
	return nil
}

// LogSender writes notifications to the log. It is used when no queue is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (sender *LogSender) Send(_ context.Context, notification wallet.Notification) error {
	message := NewMessage(notification)
	sender.logger.Info("burn notification",
		zap.String("event", message.Event),
		zap.String("business_unit_id", message.BusinessUnitID),
		zap.String("customer_id", message.CustomerID),
		zap.String("entry_id", message.EntryID),
		zap.String("points_burned", message.PointsBurned),
		zap.String("final_amount", message.FinalAmount),
	)
	return nil
}
