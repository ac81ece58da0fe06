package domain

import "testing"

func TestGenerateConfirmationCode_SixDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, hash, err := GenerateConfirmationCode()
		if err != nil {
			t.Fatalf("failed to generate code: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected a 6-digit code, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("expected only digits, got %q", code)
			}
		}
		if hash == code {
			t.Fatal("hash must not equal the plaintext code")
		}
	}
}

func TestVerifyConfirmationCode_RoundTrip(t *testing.T) {
	code, hash, err := GenerateConfirmationCode()
	if err != nil {
		t.Fatalf("failed to generate code: %v", err)
	}
	if !VerifyConfirmationCode(hash, code) {
		t.Fatal("expected the generated code to verify against its hash")
	}
}

func TestVerifyConfirmationCode_RejectsWrongCode(t *testing.T) {
	code, hash, err := GenerateConfirmationCode()
	if err != nil {
		t.Fatalf("failed to generate code: %v", err)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if VerifyConfirmationCode(hash, wrong) {
		t.Fatal("a wrong code must not verify")
	}
}
