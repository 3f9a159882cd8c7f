// Package notify 封装邮件（SES）和推送（SNS）两个投递渠道。
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// ErrChannelDisabled 渠道未配置（如未设置 SNS topic）
var ErrChannelDisabled = errors.New("通知渠道未启用")

// Mailer 邮件渠道，返回投递ID
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// Pusher 推送渠道，返回投递ID
type Pusher interface {
	Publish(ctx context.Context, subject, message string) (string, error)
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESMailer struct {
	client sesAPI
	from   string
}

func NewSESMailer(client sesAPI, from string) *SESMailer {
	return &SESMailer{client: client, from: from}
}

func NewSESMailerFromConfig(awsCfg aws.Config, from string) *SESMailer {
	return NewSESMailer(sesv2.NewFromConfig(awsCfg), from)
}

func (m *SESMailer) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if to == "" {
		return "", errors.New("收件人为空")
	}
	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{to}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("SES 发送失败: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSPusher struct {
	client   snsAPI
	topicARN string
}

func NewSNSPusher(client snsAPI, topicARN string) *SNSPusher {
	return &SNSPusher{client: client, topicARN: topicARN}
}

func NewSNSPusherFromConfig(awsCfg aws.Config, topicARN string) *SNSPusher {
	return NewSNSPusher(sns.NewFromConfig(awsCfg), topicARN)
}

func (p *SNSPusher) Publish(ctx context.Context, subject, message string) (string, error) {
	if p.topicARN == "" {
		return "", ErrChannelDisabled
	}
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return "", fmt.Errorf("SNS 发布失败: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
