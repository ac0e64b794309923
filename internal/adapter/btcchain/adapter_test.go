package btcchain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/rpcclient"
)

var errBlockHeightOutOfRange = errors.New("Block height out of range")

func TestSubscribe_AlwaysUnsupported(t *testing.T) {
	a := New(chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}, rpcclient.NewMockClient())
	_, err := a.Subscribe(context.Background())
	require.ErrorIs(t, err, adapter.ErrSubscribeUnsupported)
}

func TestTipHeight(t *testing.T) {
	client := rpcclient.NewMockClient()
	client.QueueResponse("getblockcount", 820123)

	a := New(chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}, client)
	height, err := a.TipHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(820123), height)
}

func TestFetchBlock_MultiOutputNormalizesAddressedVoutsOnly(t *testing.T) {
	client := rpcclient.NewMockClient()
	client.QueueResponse("getblockhash", "00000000000000000001hash")
	client.QueueResponse("getblock", map[string]interface{}{
		"hash": "00000000000000000001hash",
		"time": 1700000000,
		"tx": []map[string]interface{}{
			{
				"txid": "txid1",
				"vout": []map[string]interface{}{
					{"value": 0.5, "n": 0, "scriptPubKey": map[string]interface{}{"address": "bc1qowner"}},
					{"value": 0.0, "n": 1, "scriptPubKey": map[string]interface{}{}}, // OP_RETURN, no address
				},
			},
		},
	})

	a := New(chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}, client)
	block, err := a.FetchBlock(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)
	require.Equal(t, adapter.KindMultiOutput, block.Txs[0].Kind)
	require.Len(t, block.Txs[0].UTXO.Outputs, 1)
	require.Equal(t, "bc1qowner", block.Txs[0].UTXO.Outputs[0].Address)
}

func TestFetchBlock_DecodesAddressFromScriptPubKeyHexWhenNodeOmitsIt(t *testing.T) {
	client := rpcclient.NewMockClient()
	client.QueueResponse("getblockhash", "hash-p2wpkh")
	client.QueueResponse("getblock", map[string]interface{}{
		"hash": "hash-p2wpkh",
		"time": 1700000000,
		"tx": []map[string]interface{}{
			{
				"txid": "txid-p2wpkh",
				"vout": []map[string]interface{}{
					// P2WPKH witness program (OP_0 <20-byte-hash>); the node's
					// JSON here omits "address"/"addresses" entirely, as some
					// node versions do for verbosity-2 responses.
					{"value": 0.25, "n": 0, "scriptPubKey": map[string]interface{}{
						"hex": "0014751e76e8199196d454941c45d1b3a323f1433bd6",
					}},
				},
			},
		},
	})

	a := New(chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}, client)
	block, err := a.FetchBlock(context.Background(), 502)
	require.NoError(t, err)
	require.Len(t, block.Txs, 1)
	require.Len(t, block.Txs[0].UTXO.Outputs, 1)
	require.True(t, strings.HasPrefix(block.Txs[0].UTXO.Outputs[0].Address, "bc1"))
}

func TestFetchBlock_TxWithNoAddressedOutputsIsDropped(t *testing.T) {
	client := rpcclient.NewMockClient()
	client.QueueResponse("getblockhash", "hash2")
	client.QueueResponse("getblock", map[string]interface{}{
		"hash": "hash2",
		"time": 1700000000,
		"tx": []map[string]interface{}{
			{"txid": "txid-opreturn-only", "vout": []map[string]interface{}{
				{"value": 0.0, "n": 0, "scriptPubKey": map[string]interface{}{}},
			}},
		},
	})

	a := New(chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}, client)
	block, err := a.FetchBlock(context.Background(), 501)
	require.NoError(t, err)
	require.Empty(t, block.Txs)
}

func TestFetchBlock_GetBlockHashFailureIsNotFound(t *testing.T) {
	client := rpcclient.NewMockClient()
	client.QueueError("getblockhash", errBlockHeightOutOfRange)

	a := New(chain.Pair{Chain: chain.BTC, Network: chain.Mainnet}, client)
	_, err := a.FetchBlock(context.Background(), 99999999)
	require.ErrorIs(t, err, adapter.ErrBlockNotFound)
}
