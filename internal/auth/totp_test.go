package auth

import (
	"strings"
	"testing"
	"time"
)

func TestVerifyTOTPWithinSkewWindow(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	cfg := DefaultTOTPConfig()
	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)

	code, err := ComputeTOTPCode(secret, now, cfg)
	if err != nil {
		t.Fatalf("ComputeTOTPCode: %v", err)
	}
	if len(code) != cfg.Digits {
		t.Fatalf("expected %d digits, got %q", cfg.Digits, code)
	}

	cases := []struct {
		name   string
		at     time.Time
		expect bool
	}{
		{"same step", now, true},
		{"one step earlier", now.Add(-30 * time.Second), true},
		{"one step later", now.Add(30 * time.Second), true},
		{"outside window", now.Add(90 * time.Second), false},
		{"far in the past", now.Add(-90 * time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := VerifyTOTP(secret, code, tc.at, cfg)
			if err != nil {
				t.Fatalf("VerifyTOTP: %v", err)
			}
			if ok != tc.expect {
				t.Fatalf("expected %v, got %v", tc.expect, ok)
			}
		})
	}
}

func TestVerifyTOTPWrongCode(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	ok, err := VerifyTOTP(secret, "000000", time.Now(), DefaultTOTPConfig())
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if ok {
		// One-in-a-million collision is possible but not worth handling here.
		t.Fatal("expected rejection of arbitrary code")
	}
}

func TestVerifyTOTPNormalizesInput(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	cfg := DefaultTOTPConfig()
	now := time.Now().UTC()
	code, err := ComputeTOTPCode(secret, now, cfg)
	if err != nil {
		t.Fatalf("ComputeTOTPCode: %v", err)
	}
	spaced := code[:3] + " " + code[3:]
	ok, err := VerifyTOTP(secret, spaced, now, cfg)
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if !ok {
		t.Fatal("expected code with spaces to verify")
	}
}

func TestVerifyTOTPRejectsBadSecret(t *testing.T) {
	if _, err := VerifyTOTP("tiny", "123456", time.Now(), DefaultTOTPConfig()); err == nil {
		t.Fatal("expected error for undersized secret")
	}
}

func TestBuildTOTPProvisioningURI(t *testing.T) {
	uri := BuildTOTPProvisioningURI("Identra", "alice", "JBSWY3DPEHPK3PXP")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected scheme: %s", uri)
	}
	for _, fragment := range []string{"Identra", "alice", "secret=JBSWY3DPEHPK3PXP"} {
		if !strings.Contains(uri, fragment) {
			t.Fatalf("uri missing %q: %s", fragment, uri)
		}
	}
}

func TestGenerateRecoveryCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes(10)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	seen := make(map[string]struct{})
	for _, code := range codes {
		parts := strings.Split(code, "-")
		if len(parts) != 2 || len(parts[0]) != 5 || len(parts[1]) != 5 {
			t.Fatalf("unexpected code format: %q", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code generated: %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	if got := NormalizeRecoveryCode(" ab1cd-EF2GH "); got != "AB1CD-EF2GH" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}
