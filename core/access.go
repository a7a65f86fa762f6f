package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"time"
)

// lifetimeField is consumed by the cache and never forwarded to the render server.
const lifetimeField = "lifetime"

// maxLifetimeSeconds is the longest lifetime a time.Duration can hold.
const maxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

// AccessInfo is a render access token bundle for one workflow.
// A nil *AccessInfo means the product is not authorized.
// AccessInfo values are replaced wholesale and never mutated after creation.
type AccessInfo struct {
	// AcquiredAt is when the token was obtained, at second resolution.
	AcquiredAt time.Time

	// Lifetime is the nominal validity reported by the API server.
	Lifetime time.Duration

	// RenderAccessParameters are merged verbatim into render requests.
	RenderAccessParameters map[string]string

	// Workflow is the workflow the token was issued for, when known.
	Workflow string
}

// ExpiresAt returns the instant after which the token must be refreshed,
// with fuzz shaved off the nominal lifetime.
func (a *AccessInfo) ExpiresAt(fuzz time.Duration) time.Time {
	return a.AcquiredAt.Add(a.Lifetime - fuzz)
}

// Params returns a copy of the render access parameters.
func (a *AccessInfo) Params() map[string]string {
	return maps.Clone(a.RenderAccessParameters)
}

// IsValid reports whether info can authorize a render request at now.
// Comparison happens in whole epoch seconds: a token acquired at T with
// lifetime L is valid through T+L-fuzz inclusive.
func IsValid(info *AccessInfo, now time.Time, fuzz time.Duration) bool {
	if info == nil {
		return false
	}
	return now.Unix() <= info.ExpiresAt(fuzz).Unix()
}

// newAccessInfo builds an AccessInfo from a get-token info payload.
// The lifetime field is extracted and stripped; every other field becomes
// a render access parameter.
func newAccessInfo(info Info, acquiredAt time.Time) (*AccessInfo, error) {
	raw, ok := info[lifetimeField]
	if !ok {
		return nil, fmt.Errorf("%w: get-token info has no %s", ErrMalformedResponse, lifetimeField)
	}
	seconds, err := parseSeconds(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, lifetimeField, err)
	}
	if seconds < 0 {
		return nil, fmt.Errorf("%w: negative %s %d", ErrMalformedResponse, lifetimeField, seconds)
	}
	if seconds > maxLifetimeSeconds {
		return nil, fmt.Errorf("%w: %s %d out of range", ErrMalformedResponse, lifetimeField, seconds)
	}

	params := make(map[string]string, len(info))
	for k, v := range info {
		if k == lifetimeField {
			continue
		}
		params[k] = stringify(v)
	}

	return &AccessInfo{
		AcquiredAt:             time.Unix(acquiredAt.Unix(), 0),
		Lifetime:               time.Duration(seconds) * time.Second,
		RenderAccessParameters: params,
	}, nil
}

func parseSeconds(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return floatSeconds(f)
	case float64:
		return floatSeconds(n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func floatSeconds(f float64) (int64, error) {
	if math.IsNaN(f) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, fmt.Errorf("%v out of range", f)
	}
	return int64(f), nil
}

// stringify renders an opaque info value the way it appears on the wire.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
