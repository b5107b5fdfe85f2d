package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidSignature   = errors.New("invalid gateway signature")
	ErrInvalidCorrelation = errors.New("invalid correlation token")
	ErrMalformedCallback  = errors.New("malformed gateway callback")
	ErrAmountOutOfRange   = errors.New("amount outside gateway limits")
	ErrGatewayTimeout     = errors.New("payment gateway timed out")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// GatewayError is a non-zero result code returned by the create endpoint.
type GatewayError struct {
	ResultCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected payment request: resultCode=%d message=%s", e.ResultCode, e.Message)
}

// IsTransient reports whether err means the gateway outcome is unknown and the
// call may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrGatewayUnavailable)
}

type PaymentRequest struct {
	BookingID   string
	BookingCode string
	Amount      int64
	Description string
}

// PaymentSession is a hosted payment page opened at the gateway.
type PaymentSession struct {
	PayURL    string
	Deeplink  string
	QRCodeURL string
	RequestID string
	OrderID   string
	Amount    int64
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	AutoCapture bool   `json:"autoCapture"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink"`
	QRCodeURL    string `json:"qrCodeUrl"`
}

// Client signs outbound payment requests and verifies inbound callbacks.
type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time
}

func NewClient(cfg config.GatewayConfig, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log,
		now:        time.Now,
	}
}

// ClampAmount forces amount into the gateway's accepted range.
func (c *Client) ClampAmount(amount int64) int64 {
	if amount < c.cfg.MinAmount {
		return c.cfg.MinAmount
	}
	if amount > c.cfg.MaxAmount {
		return c.cfg.MaxAmount
	}
	return amount
}

// ValidateAmount rejects amounts the gateway would not accept unclamped.
func (c *Client) ValidateAmount(amount int64) error {
	if amount < c.cfg.MinAmount || amount > c.cfg.MaxAmount {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, amount, c.cfg.MinAmount, c.cfg.MaxAmount)
	}
	return nil
}

// CreatePayment opens a hosted payment session for a booking.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	extraData, err := EncodeCorrelation(req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode correlation: %w", err)
	}

	amount := c.ClampAmount(req.Amount)
	if amount != req.Amount {
		c.logger.Warn("GATEWAY", fmt.Sprintf("Amount %d for booking %s clamped to %d", req.Amount, req.BookingID, amount))
	}

	body := &createRequest{
		PartnerCode: c.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		Amount:      amount,
		OrderID:     fmt.Sprintf("%s-%d", req.BookingCode, c.now().UnixMilli()),
		OrderInfo:   req.Description,
		RedirectURL: c.cfg.RedirectURL,
		IPNURL:      c.cfg.IPNURL,
		RequestType: c.cfg.RequestType,
		ExtraData:   extraData,
		Lang:        c.cfg.Lang,
		AutoCapture: true,
	}
	body.Signature = Sign(c.cfg.SecretKey, createCanonical(c.cfg.AccessKey, body))

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.LogPayment("CREATE", req.BookingID, fmt.Sprintf("orderId=%s requestId=%s amount=%d", body.OrderID, body.RequestID, amount))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("GATEWAY", fmt.Sprintf("Create payment for %s timed out: %v", req.BookingID, err))
			return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		c.logger.Error("GATEWAY", fmt.Sprintf("Create payment for %s failed: %v", req.BookingID, err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("GATEWAY", fmt.Sprintf("Failed to close gateway response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrGatewayUnavailable, err)
	}
	if out.ResultCode != ResultSuccess || out.PayURL == "" {
		c.logger.Warn("GATEWAY", fmt.Sprintf("Gateway rejected %s: %d %s", body.OrderID, out.ResultCode, out.Message))
		return nil, &GatewayError{ResultCode: out.ResultCode, Message: out.Message}
	}

	return &PaymentSession{
		PayURL:    out.PayURL,
		Deeplink:  out.Deeplink,
		QRCodeURL: out.QRCodeURL,
		RequestID: body.RequestID,
		OrderID:   body.OrderID,
		Amount:    amount,
	}, nil
}

// VerifyCallback checks the callback signature. It says nothing about which
// field differed.
func (c *Client) VerifyCallback(p *CallbackPayload) error {
	if p == nil || p.Signature == "" {
		return ErrInvalidSignature
	}
	if !signatureMatches(c.cfg.SecretKey, callbackCanonical(c.cfg.AccessKey, p), p.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// SignCallback fills in the signature the gateway would send. Used by the ops
// CLI and tests to produce callbacks.
func (c *Client) SignCallback(p *CallbackPayload) {
	p.Signature = Sign(c.cfg.SecretKey, callbackCanonical(c.cfg.AccessKey, p))
}

// PartnerCode is echoed in IPN acknowledgements.
func (c *Client) PartnerCode() string {
	return c.cfg.PartnerCode
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
