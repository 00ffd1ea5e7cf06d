package relay

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// KeySigner signs events with a local secret key. The key is provided via
// environment at startup, never persisted by the engine.
type KeySigner struct {
	sk string
}

// NewKeySigner accepts an nsec or a 64-hex secret key
func NewKeySigner(key string) (*KeySigner, error) {
	if strings.HasPrefix(key, "nsec1") {
		prefix, decoded, err := nip19.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("unexpected key prefix: %s", prefix)
		}
		return &KeySigner{sk: decoded.(string)}, nil
	}

	if len(key) != 64 {
		return nil, fmt.Errorf("secret key must be an nsec or 64 hex characters")
	}
	return &KeySigner{sk: key}, nil
}

// Sign computes the event id and signature in place
func (k *KeySigner) Sign(event *nostr.Event) error {
	return event.Sign(k.sk)
}

// PublicKey returns the hex pubkey for the signing key
func (k *KeySigner) PublicKey() (string, error) {
	return nostr.GetPublicKey(k.sk)
}
