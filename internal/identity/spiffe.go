package identity

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// SpireVerifier implements Verifier against a live SPIRE agent Workload
// API socket. Used by surfaces that run alongside a SPIRE agent; the
// gateway works without one configured (principal binding then falls back
// to Ref.Equal).
//
// Besides confirming a caller's SPIFFE ID against its current X.509 SVID,
// SpireVerifier remembers the last hash it observed per SPIFFE ID so a
// silent SVID rotation between two calls for the same caller surfaces as
// a warning rather than passing unremarked.
type SpireVerifier struct {
	source *workloadapi.X509Source

	mu       sync.Mutex
	lastSeen map[string]string // spiffeID -> most recently observed SVID hash
}

// NewSpireVerifier connects to the SPIRE agent at socketPath.
func NewSpireVerifier(socketPath string) (*SpireVerifier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "connect to SPIRE agent", err)
	}
	slog.Info("identity: connected to SPIRE agent", "socket_path", socketPath)
	return &SpireVerifier{source: source, lastSeen: make(map[string]string)}, nil
}

// VerifySVID confirms spiffeID matches the workload's current X.509 SVID
// and returns a hex-encoded SHA-256 hash of the leaf certificate. If a
// different hash was returned for the same spiffeID on a prior call, the
// rotation is logged at warn level; the caller still succeeds, since a
// rotated-but-still-matching SVID is the expected steady state, not a
// mismatch.
func (sv *SpireVerifier) VerifySVID(spiffeID string) (string, error) {
	id, err := spiffeid.FromString(spiffeID)
	if err != nil {
		return "", coreerr.Wrap(coreerr.InvalidInput, "parse SPIFFE ID", err)
	}

	svid, err := sv.source.GetX509SVID()
	if err != nil {
		return "", coreerr.Wrap(coreerr.Backend, "fetch workload X.509 SVID", err)
	}
	if svid.ID.String() != id.String() {
		return "", coreerr.New(coreerr.InvalidInput,
			fmt.Sprintf("SPIFFE ID mismatch: expected %s, got %s", id, svid.ID))
	}

	sum := sha256.Sum256(svid.Certificates[0].Raw)
	hash := hex.EncodeToString(sum[:])

	sv.mu.Lock()
	prev, known := sv.lastSeen[spiffeID]
	sv.lastSeen[spiffeID] = hash
	sv.mu.Unlock()

	switch {
	case known && prev != hash:
		slog.Warn("identity: SVID rotated since last verification",
			"spiffe_id", spiffeID, "previous_hash", prev, "hash", hash)
	default:
		slog.Debug("identity: verified SPIFFE SVID", "spiffe_id", spiffeID, "hash", hash)
	}
	return hash, nil
}

// TLSConfig returns an mTLS client config authenticated via the workload's
// X.509 SVID source.
func (sv *SpireVerifier) TLSConfig() *tls.Config {
	return tlsconfig.MTLSClientConfig(sv.source, sv.source, tlsconfig.AuthorizeAny())
}

// Close releases the underlying SPIRE workload API connection.
func (sv *SpireVerifier) Close() error {
	return sv.source.Close()
}

// SPIFFEID builds a SPIFFE ID for a principal under trustDomain.
func SPIFFEID(trustDomain, principal string) string {
	return fmt.Sprintf("spiffe://%s/principal/%s", trustDomain, principal)
}
