package identity

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/stretchr/testify/require"
)

type fakeCognito struct {
	cognitoAPI
	signUp   *cip.SignUpInput
	auth     *cip.InitiateAuthInput
	authErr  error
	confirm  error
	userAttr []types.AttributeType
}

func (f *fakeCognito) SignUp(ctx context.Context, in *cip.SignUpInput, _ ...func(*cip.Options)) (*cip.SignUpOutput, error) {
	f.signUp = in
	return &cip.SignUpOutput{UserSub: aws.String("sub-1")}, nil
}

func (f *fakeCognito) ConfirmSignUp(ctx context.Context, in *cip.ConfirmSignUpInput, _ ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error) {
	return &cip.ConfirmSignUpOutput{}, f.confirm
}

func (f *fakeCognito) InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.auth = in
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &cip.InitiateAuthOutput{AuthenticationResult: &types.AuthenticationResultType{
		AccessToken:  aws.String("access"),
		IdToken:      aws.String("id"),
		RefreshToken: aws.String("refresh"),
		ExpiresIn:    3600,
	}}, nil
}

func (f *fakeCognito) GetUser(ctx context.Context, in *cip.GetUserInput, _ ...func(*cip.Options)) (*cip.GetUserOutput, error) {
	return &cip.GetUserOutput{Username: aws.String("ana"), UserAttributes: f.userAttr}, nil
}

func TestSignUpSendsAttributes(t *testing.T) {
	api := &fakeCognito{}
	p := NewCognitoProvider(api, "client-1")

	sub, err := p.SignUp(context.Background(), SignUpInput{Username: "ana", Email: "ana@example.com", Password: "Secret123!", FirstName: "Ana"})
	require.NoError(t, err)
	require.Equal(t, "sub-1", sub)
	require.Equal(t, "client-1", aws.ToString(api.signUp.ClientId))
	require.Len(t, api.signUp.UserAttributes, 3)
}

func TestSignInMapsTokensAndErrors(t *testing.T) {
	api := &fakeCognito{}
	p := NewCognitoProvider(api, "client-1")

	tokens, err := p.SignIn(context.Background(), "ana", "pw")
	require.NoError(t, err)
	require.Equal(t, "access", tokens.AccessToken)
	require.Equal(t, int32(3600), tokens.ExpiresIn)
	require.Equal(t, types.AuthFlowTypeUserPasswordAuth, api.auth.AuthFlow)
	require.Equal(t, "ana", api.auth.AuthParameters["USERNAME"])

	api.authErr = &types.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}
	_, err = p.SignIn(context.Background(), "ana", "bad")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestConfirmCodeMismatch(t *testing.T) {
	api := &fakeCognito{confirm: &types.CodeMismatchException{Message: aws.String("bad code")}}
	p := NewCognitoProvider(api, "c")
	require.ErrorIs(t, p.ConfirmSignUp(context.Background(), "ana", "000"), ErrCodeMismatch)
}

func TestGetUserAttributes(t *testing.T) {
	api := &fakeCognito{userAttr: []types.AttributeType{
		{Name: aws.String("email"), Value: aws.String("ana@example.com")},
		{Name: aws.String("email_verified"), Value: aws.String("true")},
	}}
	p := NewCognitoProvider(api, "c")
	profile, err := p.GetUser(context.Background(), "access")
	require.NoError(t, err)
	require.Equal(t, "ana", profile.Username)
	require.Equal(t, "ana@example.com", profile.Email())
	require.True(t, profile.EmailVerified())
}
