package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDirectNode serves a single JSON-RPC method from canned result JSON,
// echoing the request id the SDK client matches responses on.
func newDirectNode(t *testing.T, method, resultJSON string) *Direct {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, method, req.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, resultJSON)
	}))
	t.Cleanup(srv.Close)
	return NewDirect(rpc.New(srv.URL))
}

func TestDirectAccountInfoNormalizesRentEpoch(t *testing.T) {
	// Mainnet rent-exempt accounts report rentEpoch as u64 max, which
	// the SDK surfaces as a big integer.
	d := newDirectNode(t, "getAccountInfo", `{
		"context": {"slot": 100},
		"value": {
			"lamports": 1500000,
			"owner": "11111111111111111111111111111111",
			"data": ["", "base64"],
			"executable": false,
			"rentEpoch": 18446744073709551615
		}
	}`)

	info, err := d.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), info.Lamports)
	assert.Equal(t, solana.SystemProgramID, info.Owner)
	assert.Equal(t, uint64(math.MaxUint64), info.RentEpoch)
}

func TestDirectAccountInfoWithoutRentEpoch(t *testing.T) {
	d := newDirectNode(t, "getAccountInfo", `{
		"context": {"slot": 100},
		"value": {
			"lamports": 42,
			"owner": "11111111111111111111111111111111",
			"data": ["", "base64"],
			"executable": false
		}
	}`)

	info, err := d.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.Lamports)
	assert.Zero(t, info.RentEpoch)
}

func TestDirectBalance(t *testing.T) {
	d := newDirectNode(t, "getBalance", `{"context":{"slot":1},"value":2000000000}`)

	lamports, err := d.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), lamports)
}
