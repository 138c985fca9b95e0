// Package notify delivers earnings cap notifications to members
package notify

import (
	"context"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/net/kafka"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Notifier interface {
	Notify(ctx context.Context, n model.CapNotification) error
}

// LogNotifier only writes the notification to the log
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.CapNotification) error {
	log.Info().Str("section", "notify").
		Uint64("member_id", n.MemberID).
		Str("kind", string(n.Kind)).
		Str("tier", n.Tier.String()).
		Str("earnings", n.Earnings).
		Str("limit", n.Limit).
		Msg("Earnings cap notification")
	return nil
}

// KafkaNotifier publishes notifications for the notification service, keyed by member
type KafkaNotifier struct {
	producer kafka.KafkaProducer
}

func NewKafkaNotifier(producer kafka.KafkaProducer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n model.CapNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.producer.WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte(strconv.FormatUint(n.MemberID, 10)),
		Value: payload,
	})
}

type mailSender interface {
	Send(email *mail.SGMailV3) (int, error)
}

type sendgridClient struct {
	client *sendgrid.Client
}

func (c sendgridClient) Send(email *mail.SGMailV3) (int, error) {
	resp, err := c.client.Send(email)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// SendgridNotifier emails the member using the template configured for the notification kind
type SendgridNotifier struct {
	sender    mailSender
	from      *mail.Email
	templates map[string]string
}

func NewSendgridNotifier(cfg config.SendgridConfig) *SendgridNotifier {
	return &SendgridNotifier{
		sender:    sendgridClient{client: sendgrid.NewSendClient(cfg.Key)},
		from:      mail.NewEmail(cfg.FromName, cfg.From),
		templates: cfg.Templates,
	}
}

func (s *SendgridNotifier) Notify(_ context.Context, n model.CapNotification) error {
	if n.Email == "" {
		return nil
	}
	templateID, ok := s.templates[string(n.Kind)]
	if !ok {
		log.Warn().Str("section", "notify").Str("kind", string(n.Kind)).Msg("No email template configured")
		return nil
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", n.Email))
	p.SetDynamicTemplateData("membership_tier", n.Tier.String())
	p.SetDynamicTemplateData("earnings", n.Earnings)
	p.SetDynamicTemplateData("limit", n.Limit)

	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.SetTemplateID(templateID)
	m.AddPersonalizations(p)

	status, err := s.sender.Send(m)
	if err != nil {
		return errors.Wrap(err, "sendgrid")
	}
	if status >= 300 {
		return errors.Errorf("sendgrid responded with status %d", status)
	}
	return nil
}

// Multi fans a notification out to every notifier, returning the first error
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n model.CapNotification) error {
	var first error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			log.Error().Err(err).Str("section", "notify").Uint64("member_id", n.MemberID).Msg("Unable to deliver notification")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
