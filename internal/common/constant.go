package common

// AuthorizationHeaderName carries the bearer access token on HTTP requests.
const AuthorizationHeaderName = "Authorization"

// RequestIDHeaderName is propagated from the edge proxy into request logs.
const RequestIDHeaderName = "X-Request-ID"

// DefaultContentType is recorded when an upload does not declare one.
const DefaultContentType = "application/octet-stream"
