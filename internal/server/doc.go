/*
Package server provides the HTTP server and middleware chain for the interview API.

# Middleware Components

## Request ID (requestid.go)

RequestIDMiddleware assigns a UUID to each request, or keeps a valid one sent
by the client, and exposes it through:
  - the request context (GetRequestID)
  - the X-Request-ID response header

## Logging (logging.go)

LoggingMiddleware logs every request with slog:
  - request start (method, path, remote_addr)
  - completion (status, duration), at error level for 5xx
  - extra fields added by handlers via AddLogField and AddError

The wrapped response writer keeps http.Flusher and http.Hijacker so that
SSE and WebSocket handlers work behind it.

## CORS (cors.go)

CORSMiddleware answers preflight requests and sets the allow headers for the
configured origins. "*" allows any origin.

## Timeout (timeout.go)

TimeoutMiddleware puts a deadline on the request context. Streaming routes
are exempt; they run under their own chat deadline.

# Middleware Chain Order

 1. RequestIDMiddleware
 2. LoggingMiddleware
 3. CORSMiddleware
 4. TimeoutMiddleware
 5. Recoverer
 6. OpenTelemetry instrumentation

# Example Usage

	srv := server.New(server.Options{Addr: ":3001"}, logger)
	handler.Routes(srv.Router)
	srv.Start()
*/
package server
