package reqctx

import "context"

// Options holds fetch attributes that have no field on http.Request.
// They travel with a request through its context so they survive
// serialization and replay.
type Options struct {
	Mode           string `json:"mode,omitempty"`
	Credentials    string `json:"credentials,omitempty"`
	Cache          string `json:"cache,omitempty"`
	Redirect       string `json:"redirect,omitempty"`
	ReferrerPolicy string `json:"referrerPolicy,omitempty"`
	Integrity      string `json:"integrity,omitempty"`
	Keepalive      bool   `json:"keepalive,omitempty"`
}

// IsZero reports whether no attribute is set.
func (o Options) IsZero() bool { return o == Options{} }

type ctxKey struct{}

// WithOptions returns a child context carrying the given options.
func WithOptions(parent context.Context, o Options) context.Context {
	return context.WithValue(parent, ctxKey{}, o)
}

// From extracts the options from context if present.
func From(ctx context.Context) (Options, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return Options{}, false
	}
	o, ok := v.(Options)
	return o, ok
}
