package notify

import (
	"context"
	"regexp"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// SMS texts the vehicle owner through Amazon SNS. Contacts that are not E.164
// phone numbers are skipped.
type SMS struct {
	Client   snsiface.SNSAPI
	SenderID string
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Handle(ctx context.Context, ev Event) error {
	if !phonePattern.MatchString(ev.Contact) {
		return nil
	}
	in := &sns.PublishInput{
		PhoneNumber: aws.String(ev.Contact),
		Message:     aws.String(ev.Title + ": " + ev.Body),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	}
	if s.SenderID != "" {
		in.MessageAttributes["AWS.SNS.SMS.SenderID"] = &sns.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.SenderID)}
	}
	_, err := s.Client.PublishWithContext(ctx, in)
	return err
}
