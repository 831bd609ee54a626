/*
Package testutil provides fakes and fixtures for testing the kanon client.

# Fake servers

SignServer issues tokens for the mock ACT scheme (act.MockEngine). It
implements protocol.SignTransport directly, so unit tests can skip HTTP, and
serves the same operations under protocol.ServerParamsPath,
protocol.RegisterClientPath and protocol.GetTokensPath when mounted on a chi
router. Request metadata attestations
are checked when a tdx.Verifier is configured.

JoinGateway plays both the Oblivious HTTP gateway and the join target: it
decrypts requests with its own key, records the decoded join, and answers
with a status chosen per hash set (200 by default). It implements
protocol.JoinTransport and serves protocol.JoinEndpointPath and
protocol.KeyConfigPath.

	sign := testutil.NewSignServer(clk)
	gateway, _ := testutil.NewJoinGateway(1)
	gateway.SetStatusFor(func(hashSet string) int {
		if hashSet == "hash-002" {
			return http.StatusNotFound
		}
		return http.StatusOK
	})

# Fixtures

NewTestConfig builds a valid protocol.Config with small batches, adjustable
through options such as WithMessagesPerBatch and WithBaseURL.
GenerateTestMessages creates unsaved messages with distinct hash sets.
*/
package testutil
