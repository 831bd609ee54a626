// Command kanon-devserver runs the sign and join endpoints a kanon client
// talks to, for local development and integration testing.
//
// The server issues mock tokens, verifies request attestations unless
// --skip-verification is set, and terminates OHTTP join requests itself
// instead of relaying them. Joins are answered 200 unless their hash set
// contains the --reject substring. With --measurements-url the attested
// registers must also match a published client build.
//
// # Endpoints
//
//	POST /v1/serverParams    Server public parameters (protobuf in, base64 out)
//	POST /v1/registerClient  Client registration
//	POST /v1/getTokens       Token issuance
//	POST /v1/join            OHTTP join relay
//	GET  /v1/ohttp-keys      Gateway key configuration
//	GET  /api/config         Key configuration hex and endpoint paths
//	GET  /api/calls          Call counters
//	GET  /api/joins          Joined hash sets
//
// # Usage
//
//	go run ./cmd/kanon-devserver --addr=:9090 --skip-verification
//	go run ./cmd/kanon-client --server=http://localhost:9090 --addr=:8083
//	curl -X POST localhost:8083/kanon/messages -d '{"messages":[{"ad_selection_id":1,"hash_set":"abc"}]}'
//	curl -X POST localhost:8083/kanon/run
//	curl localhost:9090/api/joins
package main
