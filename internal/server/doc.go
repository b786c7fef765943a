// Package server hosts the Fiber HTTP service of the gateway: the request-ID
// middleware, panic recovery, and the catch-all route that hands every
// non-diagnostics request to the proxy handler. Diagnostics endpoints under
// /-/ are registered by the routes subpackage and never reach the proxy.
package server
