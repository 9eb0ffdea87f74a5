// Package main (cmd/gateway) serves the content orchestrator over HTTP.
//
// The gateway initializes the write and read sessions once at startup and
// exposes them under /api/v1 (see package httpserver). Prometheus metrics are
// served on --metrics-addr when set.
//
//	gateway --listen-addr=127.0.0.1:8080 --metrics-addr=127.0.0.1:8090 \
//	  --ipfs-url=/dns4/ipfs/tcp/5001/http \
//	  --remote-pinning-service=pinata --remote-pinning-endpoint=https://api.pinata.cloud/psa \
//	  --s3-bucket=content-mirror
package main
