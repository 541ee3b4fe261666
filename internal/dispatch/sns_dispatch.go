package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
)

// SNSService is the slice of the SNS client the notifier needs.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes each message to an SNS topic whose subscribers
// fan it out to devices.
type SNSNotifier struct {
	client   SNSService
	topicARN string
	subject  string
	timeout  time.Duration
	log      logging.Logger

	warnOnce sync.Once
}

func NewSNSNotifier(ctx context.Context, cfg config.PushConfig, log logging.Logger) (*SNSNotifier, error) {
	var client SNSService
	if cfg.SNS.TopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SNS.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client = sns.NewFromConfig(awsCfg)
	}
	return NewSNSNotifierWithClient(client, cfg, log), nil
}

func NewSNSNotifierWithClient(client SNSService, cfg config.PushConfig, log logging.Logger) *SNSNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SNSNotifier{
		client:   client,
		topicARN: cfg.SNS.TopicARN,
		subject:  cfg.Title,
		timeout:  timeout,
		log:      log.With(map[string]interface{}{"component": "notifier", "provider": config.ProviderSNS}),
	}
}

func (n *SNSNotifier) Notify(ctx context.Context, r models.Route, s models.SavedSearch) (Status, error) {
	if n.client == nil || n.topicARN == "" {
		n.warnOnce.Do(func() {
			n.log.WithError(apperr.NewNotConfiguredError("sns topic_arn")).Warn("sns topic not configured, notifications disabled", nil)
		})
		return StatusDisabled, nil
	}

	// callers may pass a context without a deadline
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(n.subject),
		Message:  aws.String(FormatMessage(r)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"ride_id":   {DataType: aws.String("String"), StringValue: aws.String(r.RideID)},
			"search_id": {DataType: aws.String("Number"), StringValue: aws.String(strconv.FormatInt(s.ID, 10))},
		},
	})
	if err != nil {
		return StatusFailed, apperr.NewNotifyError(err)
	}

	n.log.Debug("sns message published", map[string]interface{}{"ride_id": r.RideID, "message_id": aws.ToString(out.MessageId)})
	return StatusSent, nil
}
