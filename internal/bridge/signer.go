package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// Signer produces the origin proof (key_id plus a signature over the
// canonical body) for a wire message. Grounded on the reference backend's
// webhook SignPayload (HMAC-SHA256 over the payload bytes with a
// per-origin secret).
type Signer interface {
	Sign(body []byte) (keyID, signature string, err error)
}

// HMACSigner signs with a single static key, identified by keyID.
type HMACSigner struct {
	keyID  string
	secret []byte
}

// NewHMACSigner creates a Signer keyed by keyID, signing with secret.
func NewHMACSigner(keyID, secret string) *HMACSigner {
	return &HMACSigner{keyID: keyID, secret: []byte(secret)}
}

func (s *HMACSigner) Sign(body []byte) (string, string, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return s.keyID, hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalWireBody returns the bytes the origin proof signs: the wire
// message with OriginProof itself zeroed out, so the signature covers
// everything else about the message.
func canonicalWireBody(w WireMessage) ([]byte, error) {
	w.OriginProof = OriginProof{}
	body, err := json.Marshal(w)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "encode wire message for signing", err)
	}
	return body, nil
}
