package interaction

import "testing"

func TestVerifyTokenAcceptsMatchingSignature(t *testing.T) {
	token := signToken("s3cr3t", "card-1", KindNeedsReview, 1000)
	if !verifyToken("s3cr3t", "card-1", KindNeedsReview, 1000, token) {
		t.Fatal("expected matching signature to verify")
	}
}

func TestVerifyTokenRejectsTamperedField(t *testing.T) {
	token := signToken("s3cr3t", "card-1", KindNeedsReview, 1000)
	if verifyToken("s3cr3t", "card-2", KindNeedsReview, 1000, token) {
		t.Fatal("expected tampered card id to fail verification")
	}
	if verifyToken("s3cr3t", "card-1", KindNeedsReview, 2000, token) {
		t.Fatal("expected tampered expiry to fail verification")
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	token := signToken("s3cr3t", "card-1", KindNeedsReview, 1000)
	if verifyToken("other", "card-1", KindNeedsReview, 1000, token) {
		t.Fatal("expected wrong secret to fail verification")
	}
}
