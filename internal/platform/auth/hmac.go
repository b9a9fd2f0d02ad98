package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Tradewinds-Signature"
	defaultTimestampHeader = "X-Tradewinds-Timestamp"
	defaultNonceHeader     = "X-Tradewinds-Nonce"

	defaultSignatureSkew = 5 * time.Minute
	defaultReplayWindow  = 5 * time.Minute
)

// SecretSource resolves the shared secrets used to verify signed requests.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// SecretSourceFunc adapts a function to the SecretSource interface.
type SecretSourceFunc func(context.Context, string) (string, error)

// Secret implements SecretSource.
func (f SecretSourceFunc) Secret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret source not configured")
	}
	return f(ctx, name)
}

// ReplayGuard remembers nonces so a captured delivery cannot be replayed.
type ReplayGuard interface {
	// Reserve claims the nonce within the scope until expiresAt. It returns
	// false when the nonce was already claimed.
	Reserve(ctx context.Context, scope, nonce string, expiresAt time.Time) (bool, error)
}

// MemoryReplayGuard keeps nonces in process memory. Suitable for tests and
// single-instance deployments; production replicas share a Firestore-backed
// guard instead.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryReplayGuard constructs an empty guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time)}
}

// Reserve claims the nonce, pruning expired entries as it goes.
func (g *MemoryReplayGuard) Reserve(_ context.Context, scope, nonce string, expiresAt time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: replay guard needs a scope and a nonce")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for key, deadline := range g.seen {
		if deadline.Before(now) {
			delete(g.seen, key)
		}
	}
	if expiresAt.Before(now) {
		return false, errors.New("auth: nonce expiry already passed")
	}

	key := scope + "\x00" + nonce
	if deadline, held := g.seen[key]; held && deadline.After(now) {
		return false, nil
	}
	g.seen[key] = expiresAt
	return true, nil
}

// WebhookAuthMode tells the verifier how a webhook route authenticates.
type WebhookAuthMode int

const (
	// WebhookAuthUnknown rejects the request; no route matched.
	WebhookAuthUnknown WebhookAuthMode = iota
	// WebhookAuthShared verifies the request against a named shared secret.
	WebhookAuthShared
	// WebhookAuthProvider passes the request through untouched because the
	// provider adapter verifies its own signature scheme when it parses the
	// event (Stripe's Stripe-Signature header, for example).
	WebhookAuthProvider
)

// WebhookRoute maps an incoming request to its authentication mode and, for
// shared-secret routes, the secret name to verify against.
type WebhookRoute func(*http.Request) (secretName string, mode WebhookAuthMode)

// SignatureVerifier checks HMAC-SHA256 request signatures from trusted
// callers: payment webhooks with shared secrets and internal service hops.
type SignatureVerifier struct {
	secrets SecretSource
	replays ReplayGuard

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	skew         time.Duration
	replayWindow time.Duration

	cache sync.Map // secret name -> []byte
}

// SignatureOption customises a SignatureVerifier.
type SignatureOption func(*SignatureVerifier)

// NewSignatureVerifier builds a verifier over the given secret source and
// replay guard.
func NewSignatureVerifier(secrets SecretSource, replays ReplayGuard, opts ...SignatureOption) *SignatureVerifier {
	v := &SignatureVerifier{
		secrets:         secrets,
		replays:         replays,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		skew:            defaultSignatureSkew,
		replayWindow:    defaultReplayWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithSignatureLogger overrides the verifier logger.
func WithSignatureLogger(logger Logger) SignatureOption {
	return func(v *SignatureVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSignatureMetrics sets the metrics recorder.
func WithSignatureMetrics(metrics MetricsRecorder) SignatureOption {
	return func(v *SignatureVerifier) {
		v.metrics = metrics
	}
}

// WithSignatureClock injects a clock for tests.
func WithSignatureClock(now func() time.Time) SignatureOption {
	return func(v *SignatureVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithSignatureHeaders overrides the header names carrying the signature,
// timestamp, and nonce. Empty strings keep the defaults.
func WithSignatureHeaders(signature, timestamp, nonce string) SignatureOption {
	return func(v *SignatureVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithSignatureSkew adjusts how far a signature timestamp may drift from the
// verifier clock.
func WithSignatureSkew(d time.Duration) SignatureOption {
	return func(v *SignatureVerifier) {
		if d > 0 {
			v.skew = d
		}
	}
}

// WithReplayWindow adjusts how long nonces stay reserved.
func WithReplayWindow(d time.Duration) SignatureOption {
	return func(v *SignatureVerifier) {
		if d > 0 {
			v.replayWindow = d
		}
	}
}

// SignedRequest describes a verified signature for downstream handlers.
type SignedRequest struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
	Signature  []byte
	Encoded    string
}

type signedRequestKey struct{}

// WithSignedRequest stores the verification result on the context.
func WithSignedRequest(ctx context.Context, signed *SignedRequest) context.Context {
	if signed == nil {
		return ctx
	}
	return context.WithValue(ctx, signedRequestKey{}, signed)
}

// SignedRequestFromContext retrieves the verification result, if any.
func SignedRequestFromContext(ctx context.Context) (*SignedRequest, bool) {
	signed, ok := ctx.Value(signedRequestKey{}).(*SignedRequest)
	if !ok || signed == nil {
		return nil, false
	}
	return signed, true
}

// signatureFailure carries one rejection through the verification flow so the
// middleware can translate it into a response and a metric in one place.
type signatureFailure struct {
	status  int
	code    string
	message string
	reason  string
}

func reject(status int, code, message, reason string) *signatureFailure {
	return &signatureFailure{status: status, code: code, message: message, reason: reason}
}

// VerifySigned enforces a valid signature against the named shared secret.
func (v *SignatureVerifier) VerifySigned(secretName string) func(http.Handler) http.Handler {
	name := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			signed, failure := v.check(r, name)
			if failure != nil {
				v.record(r.Context(), false, failure.reason, start)
				respondAuthError(w, failure.status, failure.code, failure.message)
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithSignedRequest(r.Context(), signed)))
		})
	}
}

// VerifyWebhooks authenticates webhook deliveries according to the route's
// mode: shared-secret routes get full signature verification, provider-
// verified routes pass through to the adapter, and unmatched routes are
// rejected.
func (v *SignatureVerifier) VerifyWebhooks(route WebhookRoute) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			if route == nil {
				v.record(r.Context(), false, "route_not_configured", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook route not configured")
				return
			}

			name, mode := route(r)
			switch mode {
			case WebhookAuthProvider:
				v.record(r.Context(), true, "provider_verified", start)
				next.ServeHTTP(w, r)
			case WebhookAuthShared:
				v.VerifySigned(name)(next).ServeHTTP(w, r)
			default:
				v.record(r.Context(), false, "provider_unknown", start)
				respondAuthError(w, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
			}
		})
	}
}

// check runs the full verification flow and reports the first failure.
func (v *SignatureVerifier) check(r *http.Request, secretName string) (*SignedRequest, *signatureFailure) {
	ctx := r.Context()

	if secretName == "" {
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "signing secret not configured", "secret_not_configured")
	}
	secret, err := v.secretFor(ctx, secretName)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: signing secret %q unavailable: %v", secretName, err)
		}
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "signing secret unavailable", "secret_unavailable")
	}

	encoded := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if encoded == "" {
		return nil, reject(http.StatusUnauthorized, "signature_missing", "signature header missing", "signature_missing")
	}
	rawTimestamp := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if rawTimestamp == "" {
		return nil, reject(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing", "timestamp_missing")
	}
	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid", "timestamp_invalid")
	}
	if drift := v.now().Sub(timestamp); drift > v.skew || drift < -v.skew {
		return nil, reject(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window", "timestamp_skew")
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, reject(http.StatusUnauthorized, "nonce_missing", "signature nonce missing", "nonce_missing")
	}

	body, err := snapshotBody(r)
	if err != nil {
		return nil, reject(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification", "body_unreadable")
	}

	signature, err := decodeSignature(encoded)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid", "signature_invalid")
	}
	expected := sign(secret, canonicalPayload(r, body, rawTimestamp, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, reject(http.StatusUnauthorized, "signature_mismatch", "signature verification failed", "signature_mismatch")
	}

	if v.replays == nil {
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "replay guard unavailable", "replay_guard_unavailable")
	}
	deadline := timestamp.Add(v.replayWindow)
	if deadline.Before(v.now()) {
		deadline = v.now().Add(v.replayWindow)
	}
	reserved, err := v.replays.Reserve(ctx, secretName, nonce, deadline)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: replay guard error: %v", err)
		}
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "replay guard error", "replay_guard_error")
	}
	if !reserved {
		return nil, reject(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce", "nonce_replay")
	}

	return &SignedRequest{
		SecretName: secretName,
		Timestamp:  timestamp,
		Nonce:      nonce,
		Signature:  signature,
		Encoded:    encoded,
	}, nil
}

func (v *SignatureVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "signature", success, reason, v.now().Sub(start))
}

func (v *SignatureVerifier) secretFor(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.secrets == nil {
		return nil, errors.New("auth: secret source not configured")
	}
	if cached, ok := v.cache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}
	raw, err := v.secrets.Secret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("auth: secret %q is empty", name)
	}
	secret := []byte(raw)
	v.cache.Store(name, secret)
	return secret, nil
}

// snapshotBody reads the body and replaces it so the handler still sees it.
func snapshotBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// decodeSignature accepts base64 (standard alphabet) or hex signatures.
func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseSignatureTimestamp accepts RFC3339 (with or without fractional
// seconds) or unix seconds.
func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// canonicalPayload is the string both sides sign: method, escaped path, the
// raw timestamp header value, the nonce, and the hex SHA-256 of the body,
// joined by newlines.
func canonicalPayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)

	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(digest[:]))
	return []byte(b.String())
}

func sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
