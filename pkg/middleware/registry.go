// Package middleware lets callers rewrite JSON-RPC requests on their way to the wire
// and responses on their way back, selected by method name.
//
// Entries are kept in registration order. For a given method, Resolve returns every
// matching transform in that order and the pipelines apply them in that order, so the
// last request transform registered is the one closest to the wire and the last
// response transform registered is the one closest to the caller.
package middleware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/erc7824/nitrolite/rpccore/pkg/jsonrpc"
)

var (
	// ErrInvalidMatcher is returned by ParseMatcher for malformed input.
	ErrInvalidMatcher = errors.New("invalid matcher")
	// ErrInvalidTransform is returned by Use when fn does not fit the direction.
	ErrInvalidTransform = errors.New("invalid transform")
)

// Transform rewrites a value.
type Transform[T any] func(T) T

// Direction says whether a transform applies to requests or responses.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "request"
	case DirectionResponse:
		return "response"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

type entry struct {
	matcher  Matcher
	request  Transform[jsonrpc.Request]
	response Transform[jsonrpc.Response]
}

// Registry holds middleware entries. The zero value is ready to use and it is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// UseRequest registers a request transform for the methods selected by m.
func (r *Registry) UseRequest(fn Transform[jsonrpc.Request], m Matcher) {
	r.add(entry{matcher: m, request: fn})
}

// UseResponse registers a response transform for the methods selected by m.
func (r *Registry) UseResponse(fn Transform[jsonrpc.Response], m Matcher) {
	r.add(entry{matcher: m, response: fn})
}

// Use registers fn for direction d. fn must be a Transform or a plain function of the
// matching envelope type.
func (r *Registry) Use(d Direction, fn any, m Matcher) error {
	switch d {
	case DirectionRequest:
		switch f := fn.(type) {
		case Transform[jsonrpc.Request]:
			r.UseRequest(f, m)
		case func(jsonrpc.Request) jsonrpc.Request:
			r.UseRequest(f, m)
		default:
			return fmt.Errorf("%w: %T for %s", ErrInvalidTransform, fn, d)
		}
	case DirectionResponse:
		switch f := fn.(type) {
		case Transform[jsonrpc.Response]:
			r.UseResponse(f, m)
		case func(jsonrpc.Response) jsonrpc.Response:
			r.UseResponse(f, m)
		default:
			return fmt.Errorf("%w: %T for %s", ErrInvalidTransform, fn, d)
		}
	default:
		return fmt.Errorf("%w: unknown %s", ErrInvalidTransform, d)
	}
	return nil
}

func (r *Registry) add(e entry) {
	if e.matcher == nil {
		e.matcher = Any()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, e)
}

// Resolve returns the transforms that apply to method, in registration order.
func (r *Registry) Resolve(method string) (request []Transform[jsonrpc.Request], response []Transform[jsonrpc.Response]) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if !e.matcher.Match(method) {
			continue
		}
		if e.request != nil {
			request = append(request, e.request)
		}
		if e.response != nil {
			response = append(response, e.response)
		}
	}
	return request, response
}

// RequestPipeline returns the composed request transforms for method.
func (r *Registry) RequestPipeline(method string) Transform[jsonrpc.Request] {
	req, _ := r.Resolve(method)
	return Compose(reverse(req)...)
}

// ResponsePipeline returns the composed response transforms for method.
func (r *Registry) ResponsePipeline(method string) Transform[jsonrpc.Response] {
	_, res := r.Resolve(method)
	return Compose(reverse(res)...)
}

// Compose returns the right-to-left composition of fns: Compose(f, g)(x) is f(g(x)).
// With no functions it returns the identity.
func Compose[T any](fns ...Transform[T]) Transform[T] {
	switch len(fns) {
	case 0:
		return func(v T) T { return v }
	case 1:
		return fns[0]
	}
	return func(v T) T {
		for i := len(fns) - 1; i >= 0; i-- {
			v = fns[i](v)
		}
		return v
	}
}

func reverse[T any](s []T) []T {
	out := make([]T, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
