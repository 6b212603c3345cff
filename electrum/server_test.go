package electrum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseServer checks server address parsing and defaulting.
func TestParseServer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		addr   string
		server Server
		err    error
	}{
		{
			name: "bare host",
			addr: "electrum.example.org",
			server: Server{
				Host:     "electrum.example.org",
				Security: SecurityTLS,
			},
		},
		{
			name: "host and port",
			addr: "electrum.example.org:50002",
			server: Server{
				Host:     "electrum.example.org",
				Port:     50002,
				Security: SecurityTLS,
			},
		},
		{
			name: "plaintext scheme",
			addr: "tcp://electrum.example.org:50001",
			server: Server{
				Host:     "electrum.example.org",
				Port:     50001,
				Security: SecurityNone,
			},
		},
		{
			name: "onion host",
			addr: "explorerzydxu5ecjrkwceayqybizmpjjznk5izmitf2modhcusuqlid" +
				".onion",
			server: Server{
				Host: "explorerzydxu5ecjrkwceayqybizmpjjznk5i" +
					"zmitf2modhcusuqlid.onion",
				Security: SecurityTor,
			},
		},
		{
			name: "unknown scheme",
			addr: "quic://electrum.example.org",
			err:  ErrBadServerAddress,
		},
		{
			name: "empty",
			addr: "",
			err:  ErrBadServerAddress,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server, err := ParseServer(tc.addr)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.server, server)
		})
	}
}

// TestServerAddr checks default port selection.
func TestServerAddr(t *testing.T) {
	t.Parallel()

	require.Equal(t, "electrum.mycitadel.io:50002", ServerMyCitadel.Addr())

	plain := Server{Host: "localhost", Security: SecurityNone}
	require.Equal(t, "localhost:50001", plain.Addr())

	custom := Server{Host: "localhost", Port: 60401}
	require.Equal(t, "localhost:60401", custom.Addr())
}

// TestScriptHash checks the electrum script hashing against the sha256 of an
// empty script in reversed byte order.
func TestScriptHash(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"55b852781b9995a44c939b64e441ae2724b96f99c8f4fb9a141cfc9842c4"+
			"b0e3",
		ScriptHash(nil))
}
