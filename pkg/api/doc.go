// Package api is the HTTP surface of the service.
//
// Every data route sits behind bearer-token authentication; the
// resolved identity is attached to the request context and flows into
// the authorization, audit, and sync layers. Handlers translate the
// error taxonomy of the lower layers into JSON responses with stable
// status codes.
package api
