// Package cmd provides CLI commands for kanon.
//
// # Commands
//
// kanon-client: Accepts k-anonymity set memberships over HTTP, stores them,
// and signs and joins them against the configured issuing server and join
// relay, immediately or from the background worker.
//
//	go run ./cmd/kanon-client --config=client.yaml
//	go run ./cmd/kanon-client --server=http://localhost:9090
//
// kanon-devserver: Serves mock sign endpoints and an OHTTP join gateway for
// local development, together with an inspection API.
//
//	go run ./cmd/kanon-devserver --addr=:9090
//
// # Configuration
//
// The client reads a YAML configuration file via the --config flag.
// Command-line flags override config file values.
//
//	profile_path: "/var/lib/kanon/profile"
//	protocol:
//	  messages_per_batch: 32
//	  server_params_url: "http://localhost:9090/v1/serverParams"
//	  register_client_url: "http://localhost:9090/v1/registerClient"
//	  get_tokens_url: "http://localhost:9090/v1/getTokens"
//	  join_url: "http://localhost:9090/v1/join"
//	  key_config_hex: ""
//	  key_config_url: "http://localhost:9090/v1/ohttp-keys"
//	http:
//	  listen_addr: ":8083"
//	attestation:
//	  use_tdx: false
//	  tdx_remote_url: ""
package cmd
