package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"ms-booking/internal/models"

	"github.com/google/uuid"
)

// ResultSuccess is the only result code that means the customer paid.
const ResultSuccess = 0

// CallbackPayload is what the gateway sends to the IPN endpoint (JSON body) or
// appends to the redirect URL (query string). Numeric fields are kept as
// json.Number so the exact text the gateway signed is preserved.
type CallbackPayload struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

// ParseCallbackForm reads a callback from redirect query parameters.
func ParseCallbackForm(values url.Values) *CallbackPayload {
	return &CallbackPayload{
		PartnerCode:  values.Get("partnerCode"),
		OrderID:      values.Get("orderId"),
		RequestID:    values.Get("requestId"),
		Amount:       json.Number(values.Get("amount")),
		OrderInfo:    values.Get("orderInfo"),
		OrderType:    values.Get("orderType"),
		TransID:      json.Number(values.Get("transId")),
		ResultCode:   json.Number(values.Get("resultCode")),
		Message:      values.Get("message"),
		PayType:      values.Get("payType"),
		ResponseTime: json.Number(values.Get("responseTime")),
		ExtraData:    values.Get("extraData"),
		Signature:    values.Get("signature"),
	}
}

// Form renders the payload as redirect query parameters.
func (p *CallbackPayload) Form() url.Values {
	v := url.Values{}
	v.Set("partnerCode", p.PartnerCode)
	v.Set("orderId", p.OrderID)
	v.Set("requestId", p.RequestID)
	v.Set("amount", p.Amount.String())
	v.Set("orderInfo", p.OrderInfo)
	v.Set("orderType", p.OrderType)
	v.Set("transId", p.TransID.String())
	v.Set("resultCode", p.ResultCode.String())
	v.Set("message", p.Message)
	v.Set("payType", p.PayType)
	v.Set("responseTime", p.ResponseTime.String())
	v.Set("extraData", p.ExtraData)
	v.Set("signature", p.Signature)
	return v
}

// Outcome converts a verified payload into the booking-level outcome. Callers
// must verify the signature first.
func (p *CallbackPayload) Outcome() (models.GatewayOutcome, error) {
	resultCode, err := strconv.Atoi(p.ResultCode.String())
	if err != nil {
		return models.GatewayOutcome{}, fmt.Errorf("%w: resultCode %q", ErrMalformedCallback, p.ResultCode)
	}
	amount, err := strconv.ParseInt(p.Amount.String(), 10, 64)
	if err != nil {
		return models.GatewayOutcome{}, fmt.Errorf("%w: amount %q", ErrMalformedCallback, p.Amount)
	}

	transID := p.TransID.String()
	if transID == "0" {
		transID = ""
	}

	return models.GatewayOutcome{
		Success:       resultCode == ResultSuccess,
		TransactionID: transID,
		RequestID:     p.RequestID,
		OrderID:       p.OrderID,
		Amount:        amount,
		ResultCode:    resultCode,
		Message:       p.Message,
		PayType:       p.PayType,
	}, nil
}

type correlation struct {
	BookingID string `json:"bookingId"`
}

// EncodeCorrelation packs the booking id into the gateway's opaque extraData field.
func EncodeCorrelation(bookingID string) (string, error) {
	raw, err := json.Marshal(correlation{BookingID: bookingID})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeCorrelation extracts the booking id from extraData and checks it is a
// UUID before anyone uses it as a lookup key.
func DecodeCorrelation(extraData string) (string, error) {
	if extraData == "" {
		return "", fmt.Errorf("%w: empty extraData", ErrInvalidCorrelation)
	}

	raw, err := base64.StdEncoding.DecodeString(extraData)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrInvalidCorrelation)
	}

	var c correlation
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("%w: not a correlation document", ErrInvalidCorrelation)
	}

	id, err := uuid.Parse(c.BookingID)
	if err != nil {
		return "", fmt.Errorf("%w: booking id %q is not a uuid", ErrInvalidCorrelation, c.BookingID)
	}
	return id.String(), nil
}
