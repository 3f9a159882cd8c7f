// Package identity 封装外部身份服务（Cognito），本地不保存密码。
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

var (
	ErrNotAuthorized = errors.New("用户名或密码错误")
	ErrUserExists    = errors.New("用户已存在")
	ErrUserNotFound  = errors.New("用户不存在")
	ErrCodeMismatch  = errors.New("验证码错误或已过期")
	ErrNotConfirmed  = errors.New("邮箱尚未验证")
	ErrInvalidInput  = errors.New("身份服务拒绝了请求参数")
)

type SignUpInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int32  `json:"expires_in"`
}

// Profile get_user 的结果
type Profile struct {
	Username   string
	Attributes map[string]string
}

func (p *Profile) Email() string {
	return p.Attributes["email"]
}

func (p *Profile) EmailVerified() bool {
	return p.Attributes["email_verified"] == "true"
}

// Provider 身份服务
type Provider interface {
	SignUp(ctx context.Context, in SignUpInput) (string, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	SignIn(ctx context.Context, username, password string) (*Tokens, error)
	GetUser(ctx context.Context, accessToken string) (*Profile, error)
	ForgotPassword(ctx context.Context, username string) error
	ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error
	SignOut(ctx context.Context, accessToken string) error
}

type cognitoAPI interface {
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GetUser(ctx context.Context, params *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
	ForgotPassword(ctx context.Context, params *cip.ForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, params *cip.ConfirmForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error)
	GlobalSignOut(ctx context.Context, params *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// CognitoProvider 基于 Cognito 用户池
type CognitoProvider struct {
	client   cognitoAPI
	clientID string
}

func NewCognitoProvider(client cognitoAPI, clientID string) *CognitoProvider {
	return &CognitoProvider{client: client, clientID: clientID}
}

func NewCognitoProviderFromConfig(awsCfg aws.Config, clientID string) *CognitoProvider {
	return NewCognitoProvider(cip.NewFromConfig(awsCfg), clientID)
}

// translate 把 Cognito 的异常类型映射成本包的错误，保留原始信息
func translate(err error) error {
	if err == nil {
		return nil
	}
	var (
		notAuthorized *types.NotAuthorizedException
		exists        *types.UsernameExistsException
		notFound      *types.UserNotFoundException
		mismatch      *types.CodeMismatchException
		expired       *types.ExpiredCodeException
		notConfirmed  *types.UserNotConfirmedException
		invalidParam  *types.InvalidParameterException
		invalidPwd    *types.InvalidPasswordException
	)
	switch {
	case errors.As(err, &notAuthorized):
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	case errors.As(err, &exists):
		return fmt.Errorf("%w: %v", ErrUserExists, err)
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	case errors.As(err, &mismatch), errors.As(err, &expired):
		return fmt.Errorf("%w: %v", ErrCodeMismatch, err)
	case errors.As(err, &notConfirmed):
		return fmt.Errorf("%w: %v", ErrNotConfirmed, err)
	case errors.As(err, &invalidParam), errors.As(err, &invalidPwd):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

func (p *CognitoProvider) SignUp(ctx context.Context, in SignUpInput) (string, error) {
	attrs := []types.AttributeType{
		{Name: aws.String("email"), Value: aws.String(in.Email)},
		{Name: aws.String("given_name"), Value: aws.String(in.FirstName)},
		{Name: aws.String("family_name"), Value: aws.String(in.LastName)},
	}
	if in.PhoneNumber != "" {
		attrs = append(attrs, types.AttributeType{Name: aws.String("phone_number"), Value: aws.String(in.PhoneNumber)})
	}

	out, err := p.client.SignUp(ctx, &cip.SignUpInput{
		ClientId:       aws.String(p.clientID),
		Username:       aws.String(in.Username),
		Password:       aws.String(in.Password),
		UserAttributes: attrs,
	})
	if err != nil {
		return "", translate(err)
	}
	return aws.ToString(out.UserSub), nil
}

func (p *CognitoProvider) ConfirmSignUp(ctx context.Context, username, code string) error {
	_, err := p.client.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
	})
	return translate(err)
}

func (p *CognitoProvider) SignIn(ctx context.Context, username, password string) (*Tokens, error) {
	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		ClientId: aws.String(p.clientID),
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, translate(err)
	}
	if out.AuthenticationResult == nil {
		return nil, fmt.Errorf("%w: 需要额外的认证步骤 %s", ErrNotAuthorized, out.ChallengeName)
	}
	res := out.AuthenticationResult
	return &Tokens{
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		ExpiresIn:    res.ExpiresIn,
	}, nil
}

func (p *CognitoProvider) GetUser(ctx context.Context, accessToken string) (*Profile, error) {
	out, err := p.client.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(accessToken)})
	if err != nil {
		return nil, translate(err)
	}
	attrs := make(map[string]string, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs[aws.ToString(a.Name)] = aws.ToString(a.Value)
	}
	return &Profile{Username: aws.ToString(out.Username), Attributes: attrs}, nil
}

func (p *CognitoProvider) ForgotPassword(ctx context.Context, username string) error {
	_, err := p.client.ForgotPassword(ctx, &cip.ForgotPasswordInput{
		ClientId: aws.String(p.clientID),
		Username: aws.String(username),
	})
	return translate(err)
}

func (p *CognitoProvider) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	_, err := p.client.ConfirmForgotPassword(ctx, &cip.ConfirmForgotPasswordInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
	})
	return translate(err)
}

func (p *CognitoProvider) SignOut(ctx context.Context, accessToken string) error {
	_, err := p.client.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(accessToken)})
	return translate(err)
}
