package endpoint

import "github.com/junbin-yang/coapd/pkg/coap/resource"

// AddResource registers a URI-path binding.
func (e *Endpoint) AddResource(uriPath string, handler resource.Handler, receive resource.BlockReceiveHook, transmit resource.BlockTransmitHook) {
	e.runSync(func() {
		e.resources.Add(uriPath, handler, receive, transmit)
	})
}

// RemoveResource detaches the binding for uriPath, if any.
func (e *Endpoint) RemoveResource(uriPath string) {
	e.runSync(func() {
		e.resources.Remove(uriPath)
	})
}

// SetDefaultHandler installs the fallback invoked when no resource
// matches a unicast request.
func (e *Endpoint) SetDefaultHandler(h resource.Handler) {
	e.runSync(func() {
		e.resources.SetDefaultHandler(h)
	})
}

// SetInterceptor installs the access-control hook run before any other
// request processing.
func (e *Endpoint) SetInterceptor(fn InterceptorFunc) {
	e.runSync(func() {
		e.interceptor = fn
	})
}
