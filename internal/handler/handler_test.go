package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"sproutmarket/internal/model"
	"sproutmarket/internal/service"
	"sproutmarket/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	gateway  *testutil.Gateway
	store    *testutil.Store
	provider *testutil.Provider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.OpenDB(t)
	_, rdb := testutil.OpenRedis(t)
	cfg := testutil.Config()
	gw := testutil.NewGateway()
	store := testutil.NewStore()
	prov := testutil.NewProvider()

	notifier := service.NewNotificationService(db, &testutil.Mailer{}, &testutil.Pusher{}, cfg)
	s := Services{
		Auth:         service.NewAuthService(db, rdb, prov, cfg),
		Account:      service.NewAccountService(db, notifier, cfg),
		Catalog:      service.NewCatalogService(db, store, cfg),
		Cart:         service.NewCartService(db),
		Checkout:     service.NewCheckoutService(db, rdb, gw, notifier, cfg),
		Exchange:     service.NewExchangeService(db, rdb, gw, store, notifier, cfg),
		Notification: notifier,
		Subscription: service.NewSubscriptionService(db, gw, notifier, cfg),
	}
	return &testEnv{router: SetupRouter(s, cfg), db: db, gateway: gw, store: store, provider: prov}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
	Details json.RawMessage `json:"details"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return e.serve(t, req, token)
}

func (e *testEnv) serve(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

// login 登记身份并触发本地用户同步
func (e *testEnv) login(t *testing.T, username string) (string, *model.User) {
	t.Helper()
	token := e.provider.Token(username, username+"@example.com")
	w, env := e.do(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var u model.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	return token, &u
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authenticated", env.Error)

	w, _ = e.do(t, http.MethodGet, "/api/cart", "token-nobody", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidationUsesJSONFieldNames(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "bad"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(env.Details, &fields))
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "password")
	assert.Contains(t, fields, "email")
}

func TestRegisterVerifyAndLogin(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "lucia", "email": "lucia@example.com", "password": "supersecret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "lucia", "email": "lucia@example.com", "password": "supersecret",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"username": "lucia", "code": "000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"username": "lucia", "code": "123456"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "lucia", "password": "supersecret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.Equal(t, "token-lucia", login.Tokens.AccessToken)

	w, _ = e.do(t, http.MethodPost, "/api/auth/logout", "token-lucia", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"token-lucia"}, e.provider.SignedOut)
}

func TestCheckoutOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	seller := testutil.CreateUser(t, e.db, "vera")
	product := testutil.CreateProduct(t, e.db, seller, "monstera", "100.00", 5)
	token, _ := e.login(t, "bruno")

	w, _ := e.do(t, http.MethodPost, "/api/cart/items", token, map[string]int64{"product_id": product.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	buyer := map[string]string{"buyer_name": "Bruno Díaz", "buyer_phone": "5512345678", "buyer_address": "Av. Reforma 1"}
	w, env := e.do(t, http.MethodPost, "/api/checkout/initiate", token, buyer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var intent service.CheckoutResponse
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, int64(20000), intent.AmountCents)

	confirm := map[string]string{"payment_intent_id": intent.PaymentIntentID}
	for k, v := range buyer {
		confirm[k] = v
	}

	w, _ = e.do(t, http.MethodPost, "/api/checkout/confirm", token, confirm)
	assert.Equal(t, http.StatusConflict, w.Code, "未完成的支付不能落单")

	e.gateway.Succeed(intent.PaymentIntentID)
	w, env = e.do(t, http.MethodPost, "/api/checkout/confirm", token, confirm)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order model.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.True(t, order.TotalMXN.Equal(decimal.NewFromInt(200)))
	assert.True(t, order.CommissionMXN.Equal(decimal.NewFromInt(20)))

	w, env = e.do(t, http.MethodPost, "/api/checkout/confirm", token, confirm)
	require.Equal(t, http.StatusOK, w.Code)
	var again model.Order
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, order.ID, again.ID)

	w, _ = e.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(order.ID, 10), token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 3, testutil.Reload[model.Product](t, e.db, product.ID).Quantity)
}

func TestOwnProductCannotBeAddedToCart(t *testing.T) {
	e := newTestEnv(t)
	token, me := e.login(t, "rosa")
	p := testutil.CreateProduct(t, e.db, me, "helecho", "50.00", 2)

	w, env := e.do(t, http.MethodPost, "/api/cart/items", token, map[string]int64{"product_id": p.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "own_product", env.Error)
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, images map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, name := range images {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG fake " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCreateProductMultipart(t *testing.T) {
	e := newTestEnv(t)
	token, me := e.login(t, "sofia")
	var cat model.Category
	require.NoError(t, e.db.Order("sort_order").First(&cat).Error)

	fields := map[string]string{
		"common_name":  "Suculenta",
		"description":  "Echeveria en maceta",
		"quantity":     "4",
		"price_mxn":    "85.50",
		"category_ids": strconv.FormatInt(cat.ID, 10),
		"height_cm":    "12",
	}

	w, env := e.serve(t, multipartRequest(t, http.MethodPost, "/api/products", fields, nil), token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "image1", env.Field)

	fields["price_mxn"] = "abc"
	w, env = e.serve(t, multipartRequest(t, http.MethodPost, "/api/products", fields, map[string]string{"image1": "a.png"}), token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "price_mxn", env.Field)

	fields["price_mxn"] = "85.50"
	w, env = e.serve(t, multipartRequest(t, http.MethodPost, "/api/products", fields, map[string]string{"image1": "a.png"}), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, me.ID, p.SellerID)
	assert.True(t, p.PriceMXN.Equal(decimal.RequireFromString("85.50")))
	assert.NotEmpty(t, p.Images.Main())
	assert.Equal(t, 1, e.store.Count())
}

func TestExchangeOfferRespondOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	ownerToken, owner := e.login(t, "olga")
	offerorToken, _ := e.login(t, "omar")

	pid := e.gateway.SucceededIntent(owner.ID, 9000)
	w, env := e.serve(t, multipartRequest(t, http.MethodPost, "/api/exchanges", map[string]string{
		"plant_common_name": "Pothos",
		"description":       "Esqueje enraizado",
		"location":          "Guadalajara",
		"payment_intent_id": pid,
	}, map[string]string{"image1": "pothos.jpg"}), ownerToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ex model.Exchange
	require.NoError(t, json.Unmarshal(env.Data, &ex))

	w, env = e.serve(t, multipartRequest(t, http.MethodPost, "/api/exchange-offers", map[string]string{
		"exchange_id":       strconv.FormatInt(ex.ID, 10),
		"plant_common_name": "Cactus",
		"description":       "Cactus pequeño",
	}, map[string]string{"image1": "cactus.png"}), offerorToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var offer model.ExchangeOffer
	require.NoError(t, json.Unmarshal(env.Data, &offer))

	respondPath := "/api/exchange-offers/" + strconv.FormatInt(offer.ID, 10) + "/respond"
	w, _ = e.do(t, http.MethodPost, respondPath, offerorToken, map[string]string{"action": "accept"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = e.do(t, http.MethodPost, respondPath, ownerToken, map[string]string{"action": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "action", env.Field)

	w, env = e.do(t, http.MethodPost, respondPath, ownerToken, map[string]string{"action": "Accept"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.RespondResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, model.OfferStatusAccepted, res.Offer.Status)
	assert.Equal(t, model.ExchangeStatusExchanged, res.Exchange.Status)

	w, _ = e.do(t, http.MethodPost, respondPath, ownerToken, map[string]string{"action": "reject"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNotificationsEndpoints(t *testing.T) {
	e := newTestEnv(t)
	token, me := e.login(t, "nora")
	for i := 0; i < 3; i++ {
		require.NoError(t, e.db.Create(&model.Notification{UserID: me.ID, Type: model.NotificationLowStock, Title: "Aviso", Message: "Hola"}).Error)
	}

	w, env := e.do(t, http.MethodGet, "/api/notifications/unread-count", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var count struct {
		UnreadCount int64 `json:"unread_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, int64(3), count.UnreadCount)

	w, _ = e.do(t, http.MethodGet, "/api/notifications?unread=maybe", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/notifications/read-all", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = e.do(t, http.MethodGet, "/api/notifications?unread=true", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Zero(t, page.Total)

	w, env = e.do(t, http.MethodDelete, "/api/notifications/clear-read", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cleared))
	assert.Equal(t, int64(3), cleared.Deleted)
}

func TestStripeWebhook(t *testing.T) {
	e := newTestEnv(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w, _ := e.serve(t, req, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/subscriptions/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", e.gateway.Sign(payload))
	w, _ = e.serve(t, req, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// 客户不存在，处理失败仍确认收到
	failing := []byte(`{"id":"evt_2","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_9","object":"invoice","customer":"cus_missing"}}}`)
	req = httptest.NewRequest(http.MethodPost, "/api/subscriptions/webhook", bytes.NewReader(failing))
	req.Header.Set("Stripe-Signature", e.gateway.Sign(failing))
	w, _ = e.serve(t, req, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubscriptionBenefitsIsPublic(t *testing.T) {
	e := newTestEnv(t)
	w, env := e.do(t, http.MethodGet, "/api/subscriptions/benefits", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var b service.Benefits
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, 40, b.PremiumPlan.MaxProducts)
	assert.Equal(t, 10, b.FreePlan.MaxProducts)
}
