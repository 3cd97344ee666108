// Package stevedore is a client for the Docker Engine HTTP API.
//
// A Client is bound to a single engine endpoint, reachable over TCP,
// TLS, or a local Unix domain socket. Each client owns two connection
// pools: one with a connect timeout for ordinary calls, and one with the
// connect timeout disabled for calls that block on the engine itself,
// such as waiting for a container to exit or stopping one with a grace
// period. Streaming response bodies are exposed through ProgressStream
// for build, pull, and push operations, and through LogStream for the
// multiplexed logs and attach format.
package stevedore
