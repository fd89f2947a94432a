package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"
)

// generateTestKeyPair generates an RSA key pair for testing
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return privateKey, string(pubPEM)
}

func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func signedTestRequest(t *testing.T, privateKey *rsa.PrivateKey, keyId string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "https://remote.example/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func TestSignVerifyRoundtrip(t *testing.T) {
	privateKey, pubPEM := generateTestKeyPair(t)
	keyId := "https://local.example/users/alice#main-key"
	body := []byte(`{"type":"Create"}`)

	req := signedTestRequest(t, privateKey, keyId, body)

	if req.Header.Get("Signature") == "" {
		t.Fatal("Expected a Signature header")
	}
	if req.Header.Get("Digest") == "" {
		t.Fatal("Expected a Digest header")
	}

	actorURI, err := VerifyRequest(req, pubPEM)
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if actorURI != "https://local.example/users/alice" {
		t.Errorf("Expected actor URI without fragment, got %s", actorURI)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	_, otherPubPEM := generateTestKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req := signedTestRequest(t, privateKey, "https://local.example/users/alice#main-key", body)

	if _, err := VerifyRequest(req, otherPubPEM); err == nil {
		t.Error("Expected verification failure with the wrong key")
	}
}

func TestVerifyTamperedDigest(t *testing.T) {
	privateKey, pubPEM := generateTestKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req := signedTestRequest(t, privateKey, "https://local.example/users/alice#main-key", body)
	req.Header.Set("Digest", BodyDigest([]byte(`{"type":"Delete"}`)))

	if _, err := VerifyRequest(req, pubPEM); err == nil {
		t.Error("Expected verification failure after Digest tampering")
	}
}

func TestKeyIdFromSignature(t *testing.T) {
	header := `keyId="https://remote.example/users/bob#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="abc"`
	keyId, err := KeyIdFromSignature(header)
	if err != nil {
		t.Fatalf("KeyIdFromSignature failed: %v", err)
	}
	if keyId != "https://remote.example/users/bob#main-key" {
		t.Errorf("Unexpected keyId: %s", keyId)
	}

	if _, err := KeyIdFromSignature(`algorithm="rsa-sha256"`); err == nil {
		t.Error("Expected error for header without keyId")
	}
}

func TestCheckDateSkew(t *testing.T) {
	now := time.Now()
	window := 300 * time.Second

	fresh := now.Add(-10 * time.Second).UTC().Format(http.TimeFormat)
	if err := CheckDateSkew(fresh, now, window); err != nil {
		t.Errorf("Expected fresh date to pass: %v", err)
	}

	stale := now.Add(-10 * time.Minute).UTC().Format(http.TimeFormat)
	if err := CheckDateSkew(stale, now, window); err == nil {
		t.Error("Expected stale date to be rejected")
	}

	future := now.Add(10 * time.Minute).UTC().Format(http.TimeFormat)
	if err := CheckDateSkew(future, now, window); err == nil {
		t.Error("Expected far-future date to be rejected")
	}

	if err := CheckDateSkew("", now, window); err == nil {
		t.Error("Expected missing date to be rejected")
	}
	if err := CheckDateSkew("not a date", now, window); err == nil {
		t.Error("Expected unparseable date to be rejected")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePublicKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}
