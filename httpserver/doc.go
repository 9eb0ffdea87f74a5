/*
Package httpserver exposes the content orchestrator over HTTP.

Writes and removals go to the write client, reads to the read client. The
write path has the same guarantees as the library: a mirror or remote pinning
failure never fails an add.

API Endpoints:

  - POST /api/v1/content - Add the request body, returns {"cid": "..."}
  - GET /api/v1/content/{cid} - Stream the content back
  - GET /api/v1/json/{cid} - Content decoded as JSON, or a JSON string if it is not JSON
  - DELETE /api/v1/content/{cid}?skip_mirror=true&skip_remote_pin=true - Unpin and remove
  - GET /api/v1/status - Reachability of the nodes
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

Errors are returned as {"error": "..."} with a status derived from the error:
400 for malformed CIDs, 403 for writes on a read-only client, 404 for empty
content, 429 when the write rate limit is exhausted, 502 when the node failed
and 503 before the sessions are initialized.

Prometheus metrics are served on a separate listener when MetricsAddr is set.
*/
package httpserver
