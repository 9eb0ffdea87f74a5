// Package main (cmd/ipfsctl) is a command line client for the content orchestrator.
//
// Every command builds a storage.Manager from flags, environment variables and
// an optional YAML file (--config), then runs one operation:
//
//	ipfsctl --ipfs-url=/ip4/127.0.0.1/tcp/5001/http add ./report.json
//	ipfsctl cat bafkrei...
//	ipfsctl get-json bafkrei...
//	ipfsctl rm --skip-mirror bafkrei...
//	ipfsctl dag put --pin ./node.json
//	ipfsctl dag get bafyrei...
//	ipfsctl status bafkrei...
//	ipfsctl --s3-bucket=content mirror put ./blob.bin
//	ipfsctl --s3-bucket=content mirror delete bafkrei...
//
// Logs go to stderr so command output can be piped.
package main
