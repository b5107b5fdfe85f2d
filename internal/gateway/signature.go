package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// createCanonical is the string signed for a create-payment request. Keys and
// order must match the gateway byte for byte.
func createCanonical(accessKey string, req *createRequest) string {
	var b strings.Builder
	b.WriteString("accessKey=")
	b.WriteString(accessKey)
	b.WriteString("&amount=")
	b.WriteString(strconv.FormatInt(req.Amount, 10))
	b.WriteString("&extraData=")
	b.WriteString(req.ExtraData)
	b.WriteString("&ipnUrl=")
	b.WriteString(req.IPNURL)
	b.WriteString("&orderId=")
	b.WriteString(req.OrderID)
	b.WriteString("&orderInfo=")
	b.WriteString(req.OrderInfo)
	b.WriteString("&partnerCode=")
	b.WriteString(req.PartnerCode)
	b.WriteString("&redirectUrl=")
	b.WriteString(req.RedirectURL)
	b.WriteString("&requestId=")
	b.WriteString(req.RequestID)
	b.WriteString("&requestType=")
	b.WriteString(req.RequestType)
	return b.String()
}

// callbackCanonical rebuilds the string the gateway signed for a callback.
// It uses a different field set from createCanonical.
func callbackCanonical(accessKey string, p *CallbackPayload) string {
	fields := [][2]string{
		{"accessKey", accessKey},
		{"amount", p.Amount.String()},
		{"extraData", p.ExtraData},
		{"message", p.Message},
		{"orderId", p.OrderID},
		{"orderInfo", p.OrderInfo},
		{"orderType", p.OrderType},
		{"partnerCode", p.PartnerCode},
		{"payType", p.PayType},
		{"requestId", p.RequestID},
		{"responseTime", p.ResponseTime.String()},
		{"resultCode", p.ResultCode.String()},
		{"transId", p.TransID.String()},
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f[0]+"="+f[1])
	}
	return strings.Join(parts, "&")
}

// Sign returns the lowercase hex HMAC-SHA256 of data under secret.
func Sign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureMatches(secret, data, received string) bool {
	expected := Sign(secret, data)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(received)))
}
