package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

type fakeSNS struct {
	calls int
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.calls++
	return &sns.PublishOutput{MessageId: aws.String("push-1")}, nil
}

func TestSESMailer(t *testing.T) {
	api := &fakeSES{}
	m := NewSESMailer(api, "no-reply@sproutmarket.mx")

	id, err := m.SendEmail(context.Background(), "ana@example.com", "Hola", "Cuerpo")
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.Equal(t, []string{"ana@example.com"}, api.in.Destination.ToAddresses)
	require.Equal(t, "Hola", aws.ToString(api.in.Content.Simple.Subject.Data))

	api.err = errors.New("throttled")
	_, err = m.SendEmail(context.Background(), "ana@example.com", "Hola", "Cuerpo")
	require.ErrorIs(t, err, api.err)

	_, err = m.SendEmail(context.Background(), "", "Hola", "Cuerpo")
	require.Error(t, err)
}

func TestSNSPusherDisabledWithoutTopic(t *testing.T) {
	api := &fakeSNS{}
	_, err := NewSNSPusher(api, "").Publish(context.Background(), "s", "m")
	require.ErrorIs(t, err, ErrChannelDisabled)
	require.Zero(t, api.calls)

	id, err := NewSNSPusher(api, "arn:aws:sns:us-east-1:1:topic").Publish(context.Background(), "s", "m")
	require.NoError(t, err)
	require.Equal(t, "push-1", id)
}
