package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTOTPSecret = errors.New("auth: invalid totp secret")

// TOTPConfig describes the code derivation parameters. The defaults match
// what standard authenticator apps expect: SHA-1, 6 digits, 30-second step,
// one step of clock skew in each direction.
type TOTPConfig struct {
	PeriodSec int64
	Digits    int
	Skew      int64
}

func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{PeriodSec: 30, Digits: 6, Skew: 1}
}

// GenerateTOTPSecret returns a fresh base32 (RFC 4648, no padding) secret.
func GenerateTOTPSecret() (string, error) {
	// 20 bytes is the common default for TOTP secrets.
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return strings.ToUpper(secret), nil
}

// BuildTOTPProvisioningURI renders the otpauth:// URI encoded into the
// enrollment QR code.
func BuildTOTPProvisioningURI(issuer, accountName, secretBase32 string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "Identra"
	}
	accountName = strings.TrimSpace(accountName)
	label := issuer
	if accountName != "" {
		label = issuer + ":" + accountName
	}
	q := url.Values{}
	q.Set("secret", strings.TrimSpace(secretBase32))
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	u := &url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + url.PathEscape(label),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// NormalizeTOTPCode strips the whitespace users paste along with codes.
func NormalizeTOTPCode(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, " ", ""))
}

// VerifyTOTP checks a submitted code against the secret at the given time,
// accepting cfg.Skew steps of drift in either direction. A wrong code is
// (false, nil); only an undecodable secret is an error.
func VerifyTOTP(secretBase32, code string, now time.Time, cfg TOTPConfig) (bool, error) {
	secret, err := decodeBase32Secret(secretBase32)
	if err != nil {
		return false, err
	}
	code = NormalizeTOTPCode(code)
	if len(code) != cfg.Digits {
		return false, nil
	}
	if _, err := strconv.Atoi(code); err != nil {
		return false, nil
	}
	step := cfg.PeriodSec
	if step <= 0 {
		step = 30
	}
	counter := now.UTC().Unix() / step
	skew := cfg.Skew
	if skew < 0 {
		skew = 0
	}
	for i := -skew; i <= skew; i++ {
		if totpAt(secret, counter+i, cfg.Digits) == code {
			return true, nil
		}
	}
	return false, nil
}

// ComputeTOTPCode derives the code for the current window. Used by tests
// and enrollment verification.
func ComputeTOTPCode(secretBase32 string, now time.Time, cfg TOTPConfig) (string, error) {
	secret, err := decodeBase32Secret(secretBase32)
	if err != nil {
		return "", err
	}
	step := cfg.PeriodSec
	if step <= 0 {
		step = 30
	}
	digits := cfg.Digits
	if digits <= 0 {
		digits = 6
	}
	return totpAt(secret, now.UTC().Unix()/step, digits), nil
}

func decodeBase32Secret(secretBase32 string) ([]byte, error) {
	val := strings.ToUpper(strings.TrimSpace(secretBase32))
	val = strings.ReplaceAll(val, " ", "")
	if val == "" {
		return nil, ErrInvalidTOTPSecret
	}
	dec := base32.StdEncoding.WithPadding(base32.NoPadding)
	b, err := dec.DecodeString(val)
	if err != nil || len(b) < 10 {
		return nil, ErrInvalidTOTPSecret
	}
	return b, nil
}

func totpAt(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

// NormalizeRecoveryCode uppercases and strips separators before hashing
// or verifying a recovery code.
func NormalizeRecoveryCode(raw string) string {
	val := strings.ToUpper(strings.TrimSpace(raw))
	val = strings.ReplaceAll(val, " ", "")
	return strings.ReplaceAll(val, "-", "")
}

// GenerateRecoveryCodes returns count one-time codes in XXXXX-XXXXX form,
// drawn from crypto/rand.
func GenerateRecoveryCodes(count int) ([]string, error) {
	if count <= 0 {
		count = 10
	}
	out := make([]string, 0, count)
	for len(out) < count {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

func generateRecoveryCode() (string, error) {
	// 10 base32 chars carry 50 bits, enough for a one-time code.
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	raw := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	raw = strings.ToUpper(raw)
	if len(raw) < 10 {
		return "", errors.New("recovery code generation failed")
	}
	code := raw[:10]
	return code[:5] + "-" + code[5:], nil
}
