package auth

import "testing"

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := ComparePassword(hash, "s3cret"); err != nil {
		t.Errorf("ComparePassword rejected correct password: %v", err)
	}

	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Error("ComparePassword accepted wrong password")
	}
}
