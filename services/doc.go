/*
# Kanon Services Package

The services package provides the concrete implementations the sign/join
engine in package client runs on.

## Components

### Storage

1. **PostgresStore** (`postgres_store.go`)
  - Implements `protocol.MessageStore` and `protocol.ParameterStore`
  - Creates its tables on startup
  - Replaces client and server parameters in one transaction

2. **InMemoryStore** (`memory_store.go`)
  - Same contract without persistence
  - Used by tests and by the client when no database is configured

### Transport

1. **HTTPTransport** (`http_transport.go`)
  - Implements `protocol.SignTransport` and `protocol.JoinTransport`
  - Sign calls post protobuf and read base64 encoded protobuf back
  - Join posts the encapsulated request and reads the base64 response

2. **ObliviousEncryptor** (`oblivious.go`)
  - Wraps join requests in Oblivious HTTP
  - Takes the gateway key from a `KeyConfigSource`

3. **KeyConfigSource** (`key_config.go`)
  - `StaticKeyConfigSource`: a configured hex key configuration
  - `RemoteKeyConfigSource`: fetched from the gateway and cached

### Identity and Attestation

1. **FileProfileIDSource** (`profile.go`)
  - Keeps the client profile id in a file, generated on first use

2. **MeasuredVerifier** (`measurements.go`)
  - Checks attested registers against published client builds
  - Builds come from a static list or a `RemoteMeasurementSource`

## Usage

```go
store, err := services.NewPostgresStore(&services.PostgresConfig{
    Host:     "localhost",
    Port:     5432,
    User:     "kanon",
    Database: "kanon",
})
if err != nil {
    log.Fatal(err)
}
defer store.Close()

transport := services.NewHTTPTransport(config, logger)
keys := services.NewRemoteKeyConfigSource(config.KeyConfigURL, config.KeyConfigCacheTTL, nil)

caller, err := client.NewCaller(config, client.Dependencies{
    Engine:     act.NewMockEngine(),
    Messages:   store,
    Parameters: store,
    Sign:       transport,
    Join:       transport,
    Oblivious:  services.NewObliviousEncryptor(keys, logger),
    Profile:    services.NewFileProfileIDSource("/var/lib/kanon/profile"),
})
```

## Testing

The end-to-end tests run the client against the sign server and join
gateway from package testutil over HTTP:

```bash
go test ./services -run E2E
```

Postgres tests use go-sqlmock and need no database.
*/
package services
