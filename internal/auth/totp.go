package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

const (
	totpPeriod = 30
	totpDigits = 6
)

// SecondFactorVerifier checks time-based one-time codes against secrets that are
// stored AES-256-GCM encrypted. Plaintext secrets only exist for the length of one call.
type SecondFactorVerifier struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for TOTP QR codes
	now           func() time.Time
}

// Enrollment is the material returned when a new secret is provisioned
type Enrollment struct {
	Ciphertext    []byte
	Nonce         []byte
	Secret        string // base32, shown once for manual entry
	URL           string // otpauth:// provisioning URL
	QRCodeDataURL string
}

// NewSecondFactorVerifier creates a verifier.
// encryptionKey must be exactly 32 bytes for AES-256
func NewSecondFactorVerifier(encryptionKey []byte, issuer string) (*SecondFactorVerifier, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	key := make([]byte, len(encryptionKey))
	copy(key, encryptionKey)

	return &SecondFactorVerifier{
		encryptionKey: key,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// Required reports whether acct must present a one-time code
func (v *SecondFactorVerifier) Required(acct *models.Account) bool {
	return acct != nil && acct.TwoFactorEnabled
}

// Verify validates code against a plaintext base32 secret, allowing one period of clock drift
func (v *SecondFactorVerifier) Verify(secret []byte, code string) bool {
	if !wellFormedCode(code) || len(secret) == 0 {
		return false
	}

	valid, err := totp.ValidateCustom(code, string(secret), v.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// VerifyEncrypted decrypts the stored secret, checks code and wipes the plaintext.
// Malformed codes are rejected before the secret is touched.
func (v *SecondFactorVerifier) VerifyEncrypted(ciphertext, nonce []byte, code string) (bool, error) {
	if !wellFormedCode(code) {
		return false, nil
	}
	if len(ciphertext) == 0 {
		return false, models.ErrSecondFactorNotEnrolled
	}

	secret, err := v.DecryptSecret(ciphertext, nonce)
	if err != nil {
		return false, err
	}
	defer wipe(secret)

	return v.Verify(secret, code), nil
}

// Provision generates a new secret for accountName with its encrypted form and a QR code
func (v *SecondFactorVerifier) Provision(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: accountName,
		SecretSize:  20, // 160 bits, the RFC 4226 recommendation
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	secret := []byte(key.Secret())
	encrypted, nonce, err := v.EncryptSecret(secret)
	wipe(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Ciphertext:    encrypted,
		Nonce:         nonce,
		Secret:        key.Secret(),
		URL:           key.URL(),
		QRCodeDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (encryptedBytes, nonce, error)
func (v *SecondFactorVerifier) EncryptSecret(secret []byte) ([]byte, []byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, nil, err
	}

	// Generate random nonce (12 bytes for GCM)
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret. The caller owns the plaintext and should wipe it.
func (v *SecondFactorVerifier) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", models.ErrSecretDecryption, len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSecretDecryption, err)
	}

	return plaintext, nil
}

func (v *SecondFactorVerifier) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func wellFormedCode(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
