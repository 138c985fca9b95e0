package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	. "github.com/smartystreets/goconvey/convey"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
)

type fakeProducer struct {
	messages []kafka.Message
}

func (f *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
}

func (f *fakeSender) Send(email *mail.SGMailV3) (int, error) {
	f.sent = append(f.sent, email)
	return f.status, nil
}

type failing struct{}

func (failing) Notify(context.Context, model.CapNotification) error {
	return errors.New("down")
}

func notification() model.CapNotification {
	return model.CapNotification{
		MemberID: 12,
		Email:    "member@example.com",
		Kind:     model.CapNotificationKind_Reached,
		Tier:     "bronze_1",
		Epoch:    1,
		Earnings: "50000.00",
		Limit:    "50000.00",
	}
}

func TestNotifiers(t *testing.T) {
	ctx := context.Background()

	Convey("Kafka notifications are keyed by member", t, func() {
		producer := &fakeProducer{}
		So(NewKafkaNotifier(producer).Notify(ctx, notification()), ShouldBeNil)
		So(len(producer.messages), ShouldEqual, 1)
		So(string(producer.messages[0].Key), ShouldEqual, "12")
		So(string(producer.messages[0].Value), ShouldContainSubstring, `"kind":"cap_reached"`)
	})

	Convey("Given a sendgrid notifier", t, func() {
		sender := &fakeSender{status: 202}
		n := &SendgridNotifier{
			sender:    sender,
			from:      mail.NewEmail("Commissions", "noreply@example.com"),
			templates: map[string]string{"cap_reached": "d-123"},
		}

		Convey("The template of the kind is used", func() {
			So(n.Notify(ctx, notification()), ShouldBeNil)
			So(len(sender.sent), ShouldEqual, 1)
			So(sender.sent[0].TemplateID, ShouldEqual, "d-123")
			So(sender.sent[0].Personalizations[0].To[0].Address, ShouldEqual, "member@example.com")
		})

		Convey("Kinds without a template are skipped", func() {
			warning := notification()
			warning.Kind = model.CapNotificationKind_Warning
			So(n.Notify(ctx, warning), ShouldBeNil)
			So(sender.sent, ShouldBeEmpty)
		})

		Convey("Error statuses are reported", func() {
			sender.status = 401
			So(n.Notify(ctx, notification()), ShouldNotBeNil)
		})
	})

	Convey("Multi keeps delivering after a failure", t, func() {
		producer := &fakeProducer{}
		err := Multi{failing{}, NewKafkaNotifier(producer), LogNotifier{}}.Notify(ctx, notification())
		So(err, ShouldNotBeNil)
		So(len(producer.messages), ShouldEqual, 1)
	})
}
