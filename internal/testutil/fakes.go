package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"sproutmarket/internal/infrastructure/identity"
	"sproutmarket/internal/infrastructure/payment"
	"sproutmarket/internal/infrastructure/storage"

	"github.com/stripe/stripe-go/v81/webhook"
)

var ErrFake = errors.New("fake provider failure")

// Gateway 内存里的支付渠道
type Gateway struct {
	mu            sync.Mutex
	seq           int
	Intents       map[string]*payment.Intent
	Subscriptions map[string]*payment.Subscription
	Customers     map[string]string
	FailCreate    bool
	Secret        string
}

func NewGateway() *Gateway {
	return &Gateway{
		Intents:       make(map[string]*payment.Intent),
		Subscriptions: make(map[string]*payment.Subscription),
		Customers:     make(map[string]string),
		Secret:        "whsec_test",
	}
}

func (g *Gateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%04d", prefix, g.seq)
}

// SucceededIntent 直接登记一笔已成功的支付
func (g *Gateway) SucceededIntent(userID int64, amountCents int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next("pi")
	g.Intents[id] = &payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       payment.IntentSucceeded,
		Amount:       amountCents,
		Currency:     "mxn",
		Metadata:     map[string]string{payment.UserMetadataKey: strconv.FormatInt(userID, 10)},
	}
	return id
}

// Succeed 把已创建的支付标记为成功
func (g *Gateway) Succeed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pi, ok := g.Intents[id]; ok {
		pi.Status = payment.IntentSucceeded
	}
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, p payment.CreateIntentParams) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCreate {
		return nil, ErrFake
	}
	id := g.next("pi")
	md := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		md[k] = v
	}
	pi := &payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		Amount:       p.AmountMinor,
		Currency:     p.Currency,
		Metadata:     md,
	}
	g.Intents[id] = pi
	cp := *pi
	return &cp, nil
}

func (g *Gateway) RetrievePaymentIntent(ctx context.Context, id string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.Intents[id]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	cp := *pi
	return &cp, nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next("cus")
	g.Customers[id] = email
	return id, nil
}

func (g *Gateway) CreateSubscription(ctx context.Context, p payment.CreateSubscriptionParams) (*payment.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	sub := &payment.Subscription{
		ID:                 g.next("sub"),
		CustomerID:         p.CustomerID,
		PriceID:            p.PriceID,
		Status:             "incomplete",
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Metadata:           p.Metadata,
	}
	sub.ClientSecret = sub.ID + "_secret"
	g.Subscriptions[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (g *Gateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*payment.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, payment.ErrSubscriptionState
	}
	sub.CancelAtPeriodEnd = cancel
	cp := *sub
	return &cp, nil
}

func (g *Gateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, payment.ErrSubscriptionState
	}
	cp := *sub
	return &cp, nil
}

func (g *Gateway) ConstructEvent(payload []byte, signatureHeader string) (*payment.Event, error) {
	return payment.VerifyEvent(payload, signatureHeader, g.Secret)
}

// Sign 生成 payload 对应的 Stripe-Signature 头
func (g *Gateway) Sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    g.Secret,
		Timestamp: time.Now(),
	}).Header
}

// Store 内存对象存储，FailAfter > 0 时第 N 次上传失败
type Store struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	Deleted   []string
	uploads   int
	FailAfter int
}

func NewStore() *Store {
	return &Store{Objects: make(map[string][]byte)}
}

func (s *Store) Upload(ctx context.Context, folder string, f *storage.File) (string, error) {
	ext, err := storage.ValidateImage(f, storage.DefaultMaxImageBytes)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.FailAfter > 0 && s.uploads >= s.FailAfter {
		return "", ErrFake
	}
	body, err := io.ReadAll(f.Body)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("https://test-bucket.s3.us-east-1.amazonaws.com/%s", storage.NewKey(folder, ext))
	s.Objects[url] = body
	return url, nil
}

func (s *Store) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, url)
	s.Deleted = append(s.Deleted, url)
	return nil
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Objects)
}

// Image 一张合法的 png
func Image(name string) *storage.File {
	body := []byte("\x89PNG fake image " + name)
	return &storage.File{Name: name, ContentType: "image/png", Size: int64(len(body)), Body: bytes.NewReader(body)}
}

// Provider 内存身份服务；访问令牌形如 token-<username>
type Provider struct {
	mu        sync.Mutex
	Users     map[string]*identity.Profile
	Passwords map[string]string
	Codes     map[string]string
	SignedOut []string
}

func NewProvider() *Provider {
	return &Provider{
		Users:     make(map[string]*identity.Profile),
		Passwords: make(map[string]string),
		Codes:     make(map[string]string),
	}
}

// Token 登记一个已验证的身份并返回其访问令牌
func (p *Provider) Token(username, email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Users[username] = &identity.Profile{
		Username:   username,
		Attributes: map[string]string{"email": email, "email_verified": "true"},
	}
	return "token-" + username
}

func (p *Provider) SignUp(ctx context.Context, in identity.SignUpInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.Users[in.Username]; ok {
		return "", identity.ErrUserExists
	}
	p.Users[in.Username] = &identity.Profile{
		Username: in.Username,
		Attributes: map[string]string{
			"email":          in.Email,
			"email_verified": "false",
			"given_name":     in.FirstName,
			"family_name":    in.LastName,
		},
	}
	p.Passwords[in.Username] = in.Password
	p.Codes[in.Username] = "123456"
	return "sub-" + in.Username, nil
}

func (p *Provider) ConfirmSignUp(ctx context.Context, username, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.Users[username]
	if !ok {
		return identity.ErrUserNotFound
	}
	if p.Codes[username] != code {
		return identity.ErrCodeMismatch
	}
	u.Attributes["email_verified"] = "true"
	return nil
}

func (p *Provider) SignIn(ctx context.Context, username, password string) (*identity.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.Users[username]
	if !ok || p.Passwords[username] != password {
		return nil, identity.ErrNotAuthorized
	}
	if u.Attributes["email_verified"] != "true" {
		return nil, identity.ErrNotConfirmed
	}
	return &identity.Tokens{AccessToken: "token-" + username, IDToken: "id-" + username, RefreshToken: "refresh-" + username, ExpiresIn: 3600}, nil
}

func (p *Provider) GetUser(ctx context.Context, accessToken string) (*identity.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	username := strings.TrimPrefix(accessToken, "token-")
	u, ok := p.Users[username]
	if !ok || username == accessToken {
		return nil, identity.ErrNotAuthorized
	}
	cp := *u
	return &cp, nil
}

func (p *Provider) ForgotPassword(ctx context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.Users[username]; !ok {
		return identity.ErrUserNotFound
	}
	p.Codes[username] = "654321"
	return nil
}

func (p *Provider) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Codes[username] != code {
		return identity.ErrCodeMismatch
	}
	p.Passwords[username] = newPassword
	return nil
}

func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SignedOut = append(p.SignedOut, accessToken)
	return nil
}

// Mailer 记录发出的邮件；Fail 为 true 时全部失败
type Mailer struct {
	mu   sync.Mutex
	Sent []string
	Fail bool
}

func (m *Mailer) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return "", ErrFake
	}
	m.Sent = append(m.Sent, to+"|"+subject)
	return fmt.Sprintf("msg-%d", len(m.Sent)), nil
}

func (m *Mailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

type Pusher struct {
	mu   sync.Mutex
	Sent []string
	Fail bool
}

func (p *Pusher) Publish(ctx context.Context, subject, message string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return "", ErrFake
	}
	p.Sent = append(p.Sent, subject)
	return fmt.Sprintf("push-%d", len(p.Sent)), nil
}
