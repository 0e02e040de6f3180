package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/obs"
	"docvault.org/internal/policy"
	"docvault.org/internal/token"
)

// PolicySource yields the effective policy set for a tenant. The
// production source is *policy.Cache.
type PolicySource interface {
	Effective(ctx context.Context, organization string) []policy.Policy
}

// Pipeline runs the full request authorization sequence: verify the
// bearer, check revocation, resolve principal and resource, build the
// attribute bag, and evaluate the tenant's policies. Authentication
// and authorization failures stay distinct all the way to the HTTP
// status.
type Pipeline struct {
	codec       *token.Codec
	revocations token.RevocationStore
	principals  PrincipalStore
	resources   ResourceStore
	policies    PolicySource
	sink        audit.Sink

	now func() time.Time
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineClock injects a clock for tests.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires the pipeline. All collaborators except the sink
// are required; a nil sink falls back to log-only auditing.
func NewPipeline(codec *token.Codec, revocations token.RevocationStore, principals PrincipalStore, resources ResourceStore, policies PolicySource, sink audit.Sink, opts ...PipelineOption) (*Pipeline, error) {
	if codec == nil || revocations == nil || principals == nil || resources == nil || policies == nil {
		return nil, errors.New("authz: pipeline requires codec, revocation store, principal store, resource store and policy source")
	}
	if sink == nil {
		sink = audit.LogSink{}
	}
	p := &Pipeline{
		codec:       codec,
		revocations: revocations,
		principals:  principals,
		resources:   resources,
		policies:    policies,
		sink:        sink,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Decide runs one authorization decision. The error taxonomy maps to
// HTTP statuses: ErrAuthentication is 401, ErrPrincipalNotFound a
// denial, ErrStoreUnavailable 500. A nil error with
// decision.Allowed=false is an ordinary policy denial.
func (p *Pipeline) Decide(ctx context.Context, rawToken, action string, resourceID *int64, reqCtx RequestContext) (policy.Decision, *Principal, error) {
	claims, err := p.codec.Verify(rawToken, token.KindAccess)
	if err != nil {
		obs.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
		p.publish(ctx, audit.Event{Decision: "unauthenticated", Action: action})
		return policy.Decision{}, nil, ErrAuthentication
	}

	revoked, err := p.revocations.IsRevoked(ctx, rawToken)
	if err != nil {
		obs.AuthzDecisions.WithLabelValues("error").Inc()
		return policy.Decision{}, nil, errors.Join(ErrStoreUnavailable, err)
	}
	if revoked {
		obs.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
		p.publish(ctx, audit.Event{Decision: "unauthenticated", Action: action})
		return policy.Decision{}, nil, ErrAuthentication
	}

	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		obs.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
		p.publish(ctx, audit.Event{Decision: "unauthenticated", Action: action})
		return policy.Decision{}, nil, ErrAuthentication
	}

	principal, err := p.principals.Find(ctx, subjectID)
	if errors.Is(err, ErrPrincipalNotFound) {
		obs.Logger().WithField("subject", claims.Subject).
			Warn("valid token for nonexistent principal")
		obs.AuthzDecisions.WithLabelValues("denied").Inc()
		p.publish(ctx, audit.Event{Decision: "denied", Action: action})
		return policy.Decision{}, nil, ErrPrincipalNotFound
	}
	if err != nil {
		obs.AuthzDecisions.WithLabelValues("error").Inc()
		return policy.Decision{}, nil, err
	}

	var resource *Resource
	if resourceID != nil {
		resource, err = p.resources.Find(ctx, *resourceID)
		if err != nil {
			obs.AuthzDecisions.WithLabelValues("error").Inc()
			return policy.Decision{}, nil, err
		}
	}

	if reqCtx.Time.IsZero() {
		reqCtx.Time = p.now().UTC()
	}
	bag := BuildBag(principal, resource, action, reqCtx)

	decision := policy.Evaluate(p.policies.Effective(ctx, principal.Organization), bag)

	outcome := "denied"
	if decision.Allowed {
		outcome = "allowed"
	}
	obs.AuthzDecisions.WithLabelValues(outcome).Inc()
	p.publish(ctx, audit.Event{
		Decision:   outcome,
		PolicyID:   decision.PolicyID,
		Action:     action,
		Attributes: decision.Attributes,
		OccurredAt: reqCtx.Time,
	})
	return decision, principal, nil
}

// publish hands the event to the sink on a detached context so a slow
// sink never holds up or aborts the request.
func (p *Pipeline) publish(ctx context.Context, event audit.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	event.RequestID = audit.RequestIDFromContext(ctx)
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		p.sink.Publish(detached, event)
	}()
}

// Authorize guards a route with the pipeline. The action names the
// operation being attempted ("read", "delete", "search").
func (p *Pipeline) Authorize(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerFromRequest(r)
			if !ok {
				obs.AuthzDecisions.WithLabelValues("unauthenticated").Inc()
				p.publish(r.Context(), audit.Event{Decision: "unauthenticated", Action: action})
				respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
				return
			}

			decision, principal, err := p.Decide(r.Context(), raw, action, resourceIDFromRequest(r), RequestContext{
				IP:        ClientIP(r),
				Method:    r.Method,
				Path:      r.URL.Path,
				UserAgent: r.UserAgent(),
			})
			switch {
			case errors.Is(err, ErrAuthentication):
				respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
				return
			case errors.Is(err, ErrPrincipalNotFound):
				respondJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
				return
			case err != nil:
				obs.Logger().WithError(err).Error("authorization check failed")
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "authorization check failed"})
				return
			}
			if !decision.Allowed {
				respondJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			ctx = ContextWithDecision(ctx, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerFromRequest extracts the bearer credential. Exactly one
// Authorization header with the Bearer scheme is accepted; duplicate
// headers are ambiguous and rejected outright.
func BearerFromRequest(r *http.Request) (string, bool) {
	values := r.Header.Values("Authorization")
	if len(values) != 1 {
		return "", false
	}
	scheme, raw, found := strings.Cut(values[0], " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}

// probeLimit bounds how much of a request body the resource-id probe
// will read.
const probeLimit = 1 << 20

// resourceIDFromRequest finds the id of the addressed document, in
// priority order: path parameter, JSON body (document_id or file_id),
// query parameter. The body is restored so the handler still reads
// it.
func resourceIDFromRequest(r *http.Request) *int64 {
	if v := r.PathValue("id"); v != "" {
		return parseID(v)
	}

	if r.Body != nil && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, probeLimit))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err == nil {
			var probe struct {
				DocumentID *json.Number `json:"document_id"`
				FileID     *json.Number `json:"file_id"`
			}
			if json.Unmarshal(body, &probe) == nil {
				if probe.DocumentID != nil {
					if id := parseID(probe.DocumentID.String()); id != nil {
						return id
					}
				}
				if probe.FileID != nil {
					if id := parseID(probe.FileID.String()); id != nil {
						return id
					}
				}
			}
		}
	}

	if v := r.URL.Query().Get("document_id"); v != "" {
		return parseID(v)
	}
	return nil
}

func parseID(s string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// ClientIP returns the originating client address, preferring the
// first X-Forwarded-For hop. SplitHostPort keeps IPv6 remote
// addresses intact.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
