package voucher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ms-booking/internal/models"

	"github.com/skip2/go-qrcode"
)

var (
	ErrNotIssuable    = errors.New("voucher is only issued for confirmed bookings")
	ErrInvalidVoucher = errors.New("voucher token is invalid")
	ErrMissingSecret  = errors.New("voucher secret key is required")
)

// Payload is what a guide's scanner recovers from the QR code.
type Payload struct {
	BookingID     string    `json:"bid"`
	BookingCode   string    `json:"code"`
	TourID        string    `json:"tour"`
	PartySize     int       `json:"pax"`
	DepartureDate string    `json:"dep"`
	IssuedAt      time.Time `json:"iat"`
}

// Generator seals booking details with AES-GCM and renders them as a QR PNG.
type Generator struct {
	aead cipher.AEAD
	now  func() time.Time
}

func NewGenerator(secret string) (*Generator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead, now: func() time.Time { return time.Now().UTC() }}, nil
}

// QRCode returns a 256px PNG for a confirmed or completed booking.
func (g *Generator) QRCode(b *models.Booking) ([]byte, error) {
	if b.BookingStatus != models.BookingConfirmed && b.BookingStatus != models.BookingCompleted {
		return nil, fmt.Errorf("%w: booking is %s", ErrNotIssuable, b.BookingStatus)
	}

	token, err := g.Seal(Payload{
		BookingID:     b.ID,
		BookingCode:   b.BookingCode,
		TourID:        b.TourID,
		PartySize:     b.PartySize,
		DepartureDate: b.DepartureDate.Format("2006-01-02"),
		IssuedAt:      g.now(),
	})
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}

func (g *Generator) Seal(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal and rejects tokens sealed with another secret or altered.
func (g *Generator) Open(token string) (*Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidVoucher
	}
	n := g.aead.NonceSize()
	if len(raw) < n {
		return nil, ErrInvalidVoucher
	}

	data, err := g.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrInvalidVoucher
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidVoucher
	}
	return &p, nil
}
