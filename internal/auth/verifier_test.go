package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDevMode(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("courier:c42")
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != "courier" || p.CourierID != "c42" {
		t.Fatalf("principal: %+v", p)
	}
	p, err = v.Verify("admin")
	if err != nil || !p.IsAdmin() {
		t.Fatalf("admin: %+v %v", p, err)
	}
}

func signJWT(t *testing.T, secret []byte, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "=")
	}
	head := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload := enc(claims)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(head + "." + payload))
	sig := strings.TrimRight(base64.URLEncoding.EncodeToString(mac.Sum(nil)), "=")
	return head + "." + payload + "." + sig
}

func TestHMACMode(t *testing.T) {
	secret := []byte("topsecret")
	v := &Verifier{Mode: "hmac", HMACSecret: secret}

	tok := signJWT(t, secret, map[string]any{"role": "courier", "sub": "c1"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != "courier" || p.CourierID != "c1" {
		t.Fatalf("principal: %+v", p)
	}

	if _, err := v.Verify(signJWT(t, []byte("wrong"), map[string]any{"role": "admin"})); err == nil {
		t.Fatal("bad signature accepted")
	}
	if _, err := v.Verify(signJWT(t, secret, map[string]any{"sub": "c1"})); err == nil {
		t.Fatal("missing role accepted")
	}
	if _, err := v.Verify("not.a"); err == nil {
		t.Fatal("malformed token accepted")
	}
}

func TestOperatorRoles(t *testing.T) {
	if !(Principal{Role: "admin"}).IsOperator() {
		t.Fatal("admin is operator")
	}
	if !(Principal{Role: "operator"}).IsOperator() {
		t.Fatal("operator is operator")
	}
	if (Principal{Role: "courier"}).IsOperator() {
		t.Fatal("courier is not operator")
	}
}
