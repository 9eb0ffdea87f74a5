// Package addr resolves IPFS node locations into HTTP endpoints.
//
// Two input forms are accepted:
//
//   - multiaddr descriptors of the exact shape /<ip4|ip6|dns|dns4|dns6>/<host>/tcp/<port>[/http|/https]
//   - absolute http:// or https:// URLs
//
// The API base path (api/v0 for a stock node) is appended to the resulting URL:
//
//	ep, err := addr.Resolve("/ip4/127.0.0.1/tcp/5001/http", addr.DefaultAPIBase)
//	// ep.BaseURL == "http://127.0.0.1:5001/api/v0/", ep.HostIsNumeric == true
//
// A descriptor that parses as a multiaddr but does not follow the pattern is
// rejected with *interfaces.AddressError; it is never reinterpreted as a URL.
package addr
