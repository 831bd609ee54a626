// Package tdx produces the attestations attached to sign requests.
//
// Every provider attests a 64 byte report data value. ReportData derives it
// from the client id and the request payload so a quote cannot be replayed
// for another request. TDXProvider asks the local configfs quote provider,
// RemoteDCAPProvider a quote service over HTTP, and DummyProvider simply
// echoes the report data for tests and local development.
//
// The same types implement Verifier for the issuing side. DCAP quotes are
// checked against a DCAPPolicy; DefaultPolicy pins Intel's quoting enclave.
package tdx
