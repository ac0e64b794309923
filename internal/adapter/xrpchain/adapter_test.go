package xrpchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/rpcclient"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// wsTestServer upgrades one connection and answers every request with the
// fixed result keyed by method name, ignoring params.
func wsTestServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			result, ok := results[req.Method]
			if !ok {
				result = map[string]interface{}{}
			}
			raw, _ := json.Marshal(result)
			resp := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  json.RawMessage(raw),
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	return srv
}

func dialTestServer(t *testing.T, srv *httptest.Server) *rpcclient.WSClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := rpcclient.NewWSClient(wsURL, nil, "xrp")
	require.NoError(t, err)
	return ws
}

func TestSubscribe_AlwaysUnsupported(t *testing.T) {
	srv := wsTestServer(t, nil)
	defer srv.Close()
	ws := dialTestServer(t, srv)
	defer ws.Close()

	a := New(chain.Pair{Chain: chain.XRP, Network: chain.Mainnet}, ws)
	_, err := a.Subscribe(context.Background())
	require.ErrorIs(t, err, adapter.ErrSubscribeUnsupported)
}

func TestTipHeight_ReadsValidatedLedgerSeq(t *testing.T) {
	srv := wsTestServer(t, map[string]interface{}{
		"server_info": map[string]interface{}{
			"info": map[string]interface{}{
				"validated_ledger": map[string]interface{}{"seq": 91234567},
			},
		},
	})
	defer srv.Close()
	ws := dialTestServer(t, srv)
	defer ws.Close()

	a := New(chain.Pair{Chain: chain.XRP, Network: chain.Mainnet}, ws)
	height, err := a.TipHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(91234567), height)
}

func TestFetchBlock_NativePaymentInDrops(t *testing.T) {
	srv := wsTestServer(t, map[string]interface{}{
		"ledger": map[string]interface{}{
			"ledger": map[string]interface{}{
				"ledger_index": "91234567",
				"close_time":   0,
				"transactions": []map[string]interface{}{
					{
						"hash":            "TXHASH1",
						"TransactionType": "Payment",
						"Account":         "rSender",
						"Destination":     "rOwned",
						"Amount":          "10000000", // 10 XRP in drops
					},
				},
			},
		},
	})
	defer srv.Close()
	ws := dialTestServer(t, srv)
	defer ws.Close()

	a := New(chain.Pair{Chain: chain.XRP, Network: chain.Mainnet}, ws)
	block, err := a.FetchBlock(context.Background(), 91234567)
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)

	tx := block.Txs[0]
	require.Equal(t, adapter.KindPayment, tx.Kind)
	require.Equal(t, "rOwned", tx.XRP.To)
	require.True(t, tx.XRP.Amount.Equal(mustDecimal("10")))
	require.Empty(t, tx.XRP.CurrencyCode)
}

func TestFetchBlock_IssuedCurrencyPayment(t *testing.T) {
	srv := wsTestServer(t, map[string]interface{}{
		"ledger": map[string]interface{}{
			"ledger": map[string]interface{}{
				"ledger_index": "91234568",
				"close_time":   0,
				"transactions": []map[string]interface{}{
					{
						"hash":            "TXHASH2",
						"TransactionType": "Payment",
						"Account":         "rSender",
						"Destination":     "rOwned",
						"Amount": map[string]interface{}{
							"currency": "USD",
							"issuer":   "rIssuer",
							"value":    "42.5",
						},
					},
				},
			},
		},
	})
	defer srv.Close()
	ws := dialTestServer(t, srv)
	defer ws.Close()

	a := New(chain.Pair{Chain: chain.XRP, Network: chain.Mainnet}, ws)
	block, err := a.FetchBlock(context.Background(), 91234568)
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)

	tx := block.Txs[0]
	require.Equal(t, "USD", tx.XRP.CurrencyCode)
	require.Equal(t, "rIssuer", tx.XRP.IssuerAddress)
	require.True(t, tx.XRP.Amount.Equal(mustDecimal("42.5")))
}

func TestFetchBlock_NonPaymentTransactionTypeIsSkipped(t *testing.T) {
	srv := wsTestServer(t, map[string]interface{}{
		"ledger": map[string]interface{}{
			"ledger": map[string]interface{}{
				"ledger_index": "91234569",
				"close_time":   0,
				"transactions": []map[string]interface{}{
					{"hash": "TXHASH3", "TransactionType": "OfferCreate", "Account": "rSender"},
				},
			},
		},
	})
	defer srv.Close()
	ws := dialTestServer(t, srv)
	defer ws.Close()

	a := New(chain.Pair{Chain: chain.XRP, Network: chain.Mainnet}, ws)
	block, err := a.FetchBlock(context.Background(), 91234569)
	require.NoError(t, err)
	require.Empty(t, block.Txs)
}
