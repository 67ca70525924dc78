// Package gateway assembles srpgate's servers.
//
// A Gateway owns three listeners:
//
//   - the HTTP API (chi), which serves the two handshake steps, Facebook
//     login and the authenticated /api routes behind the request gate;
//   - the gRPC server, which exposes the same handshake plus Account and
//     Admin services over a JSON codec;
//   - the ops listener, with /health, /health/ready and /metrics, which is
//     never exposed through Tailscale and never gated.
//
// Handshake failures of every kind are reported identically so a caller
// cannot tell an unknown identity from a wrong password.
package gateway
