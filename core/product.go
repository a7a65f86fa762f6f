package core

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
)

// RenderCommandBuilder turns render parameters into a render server URL.
// *ServerManager is the standard implementation.
type RenderCommandBuilder interface {
	BuildRenderCommand(ctx context.Context, product Authorizer, renderParameters map[string]string) (map[string]string, error)
	BuildRenderServerURLRequest(params map[string]string) string
}

// ProductListener receives optional notifications from a Product.
// Nil slots are skipped.
type ProductListener struct {
	// OnURLReady is called with every URL GenerateURL returns.
	OnURLReady func(url string)

	// OnURLFail is called with every error GenerateURL returns.
	OnURLFail func(err error)

	// OnAccessInfoChange is called when the cached token is replaced or cleared.
	OnAccessInfoChange func(info *AccessInfo)
}

// Product is a renderable workflow plus the render parameters sent with
// every request for it.
//
// Parameters equal to their registered default are not stored, so the
// render server applies its own defaults and the URL stays short.
// Product is safe for concurrent use; concurrent GenerateURL calls with an
// expired token may each acquire a token, and the last one stored wins.
type Product struct {
	manager  RenderCommandBuilder
	listener ProductListener

	mu         sync.RWMutex
	workflowID string
	params     map[string]string
	defaults   map[string]string
	accessInfo *AccessInfo
}

// ProductOption configures a Product.
type ProductOption func(*productOptions)

type productOptions struct {
	params   map[string]any
	defaults map[string]any
	listener ProductListener
}

// WithRenderParameters sets initial render parameters, subject to default elision.
func WithRenderParameters(params map[string]any) ProductOption {
	return func(o *productOptions) {
		maps.Copy(o.params, params)
	}
}

// WithPropertyDefaults registers the workflow's default parameter values.
func WithPropertyDefaults(defaults map[string]any) ProductOption {
	return func(o *productOptions) {
		maps.Copy(o.defaults, defaults)
	}
}

// WithListener installs notification callbacks.
func WithListener(l ProductListener) ProductOption {
	return func(o *productOptions) {
		o.listener = l
	}
}

// NewProduct creates a product for workflowID rendered through manager.
func NewProduct(manager RenderCommandBuilder, workflowID string, opts ...ProductOption) *Product {
	o := productOptions{
		params:   make(map[string]any),
		defaults: make(map[string]any),
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Product{
		manager:    manager,
		listener:   o.listener,
		workflowID: workflowID,
		params:     make(map[string]string),
		defaults:   make(map[string]string, len(o.defaults)),
	}
	for k, v := range o.defaults {
		if v != nil {
			p.defaults[k] = FormatValue(v)
		}
	}
	for k, v := range o.params {
		p.setLocked(k, v)
	}
	return p
}

// WorkflowID returns the workflow ID.
func (p *Product) WorkflowID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workflowID
}

// SetWorkflowID switches the product to another workflow. A change drops
// the cached access token, which is only valid for the old workflow.
func (p *Product) SetWorkflowID(id string) {
	p.mu.Lock()
	changed := p.setWorkflowLocked(id)
	p.mu.Unlock()

	if changed {
		p.notifyAccessInfo(nil)
	}
}

func (p *Product) setWorkflowLocked(id string) bool {
	if p.workflowID == id {
		return false
	}
	p.workflowID = id
	p.accessInfo = nil
	return true
}

// AccessInfo returns the cached access token, or nil.
func (p *Product) AccessInfo() *AccessInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accessInfo
}

// SetAccessInfo replaces the cached access token. A token issued for a
// workflow other than the current one is discarded.
func (p *Product) SetAccessInfo(info *AccessInfo) {
	p.mu.Lock()
	if info != nil && info.Workflow != "" && info.Workflow != p.workflowID {
		p.mu.Unlock()
		return
	}
	p.accessInfo = info
	p.mu.Unlock()

	p.notifyAccessInfo(info)
}

// SetRenderParameter sets key to value. A nil value, or one equal to the
// registered default, removes key instead. The "workflow" key changes the
// workflow ID.
func (p *Product) SetRenderParameter(key string, value any) {
	p.mu.Lock()
	changed := p.setLocked(key, value)
	p.mu.Unlock()

	if changed {
		p.notifyAccessInfo(nil)
	}
}

// SetRenderParameters applies SetRenderParameter to every pair.
func (p *Product) SetRenderParameters(values map[string]any) {
	p.mu.Lock()
	changed := false
	for k, v := range values {
		if p.setLocked(k, v) {
			changed = true
		}
	}
	p.mu.Unlock()

	if changed {
		p.notifyAccessInfo(nil)
	}
}

// setLocked stores one parameter and reports whether the access token was dropped.
func (p *Product) setLocked(key string, value any) bool {
	if key == ParamWorkflow {
		if value == nil {
			return false
		}
		return p.setWorkflowLocked(FormatValue(value))
	}

	if value == nil {
		delete(p.params, key)
		return false
	}

	s := FormatValue(value)
	if def, ok := p.defaults[key]; ok && def == s {
		delete(p.params, key)
		return false
	}
	p.params[key] = s
	return false
}

// GetRenderParameter returns the stored value for key, else its default.
func (p *Product) GetRenderParameter(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if key == ParamWorkflow {
		return p.workflowID, p.workflowID != ""
	}
	if v, ok := p.params[key]; ok {
		return v, true
	}
	v, ok := p.defaults[key]
	return v, ok
}

// RenderParameters returns a copy of the stored parameters, i.e. the
// non-default values that go over the wire.
func (p *Product) RenderParameters() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.params)
}

// ClearRenderParameters removes every stored parameter.
func (p *Product) ClearRenderParameters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.params)
}

// FinalParams returns the parameters of one render request: the stored
// parameters overlaid with additional, plus the workflow. A nil value in
// additional drops that key for this request only.
func (p *Product) FinalParams(additional map[string]any) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := maps.Clone(p.params)
	for k, v := range additional {
		if k == ParamWorkflow {
			continue
		}
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = FormatValue(v)
	}
	out[ParamWorkflow] = p.workflowID
	return out
}

// GenerateURL builds a render server URL for the product, acquiring an
// access token first when needed. additional applies to this request only.
func (p *Product) GenerateURL(ctx context.Context, additional map[string]any) (string, error) {
	params, err := p.manager.BuildRenderCommand(ctx, p, p.FinalParams(additional))
	if err != nil {
		if p.listener.OnURLFail != nil {
			p.listener.OnURLFail(err)
		}
		return "", err
	}

	u := p.manager.BuildRenderServerURLRequest(params)
	if p.listener.OnURLReady != nil {
		p.listener.OnURLReady(u)
	}
	return u, nil
}

func (p *Product) notifyAccessInfo(info *AccessInfo) {
	if p.listener.OnAccessInfoChange != nil {
		p.listener.OnAccessInfoChange(info)
	}
}

// FormatValue renders a parameter value as it is sent on the wire.
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

var _ Authorizer = (*Product)(nil)
