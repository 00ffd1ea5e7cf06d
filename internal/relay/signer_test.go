package relay

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestKeySignerFromHex(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	signer, err := NewKeySigner(sk)
	if err != nil {
		t.Fatalf("NewKeySigner() error = %v", err)
	}

	event := &nostr.Event{
		Kind:      9,
		CreatedAt: nostr.Now(),
		Content:   "hello",
		Tags:      nostr.Tags{},
	}
	if err := signer.Sign(event); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if event.ID == "" || event.Sig == "" {
		t.Error("signed event missing id or signature")
	}

	ok, err := event.CheckSignature()
	if err != nil || !ok {
		t.Errorf("signature check failed: %v", err)
	}

	pubkey, err := signer.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if event.PubKey != pubkey {
		t.Errorf("event pubkey = %s, want %s", event.PubKey, pubkey)
	}
}

func TestKeySignerFromNsec(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("EncodePrivateKey() error = %v", err)
	}

	signer, err := NewKeySigner(nsec)
	if err != nil {
		t.Fatalf("NewKeySigner(nsec) error = %v", err)
	}

	want, _ := nostr.GetPublicKey(sk)
	got, err := signer.PublicKey()
	if err != nil || got != want {
		t.Errorf("PublicKey() = %s, %v, want %s", got, err, want)
	}
}

func TestKeySignerRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "tooshort", "nsec1notvalidbech32"} {
		if _, err := NewKeySigner(key); err == nil {
			t.Errorf("NewKeySigner(%q) accepted invalid key", key)
		}
	}
}
