package quote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sol-pay-gateway/internal/config"
	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testInputMint = consts.WSOLMint
	testReference = solana.PublicKeyFromBytes(bytes.Repeat([]byte{7}, 32))
)

func newTestClient(t *testing.T, endpoint string) *Client {
	pricing, err := core.NewPricing("50", 6)
	require.NoError(t, err)
	c := NewClient(config.AggregatorConfig{
		Endpoint:       endpoint,
		SlippageBps:    50,
		VenueAllowList: []string{"Orca", "Raydium"},
		MaxAttempts:    4,
		TimeoutMs:      2000,
	}, pricing, consts.USDCMint, testReference)
	c.initialInterval = time.Millisecond
	return c
}

func quoteJSON(outAmount string) string {
	return fmt.Sprintf(`{
		"inputMint": %q,
		"inAmount": "1234567",
		"outputMint": %q,
		"outAmount": %q,
		"otherAmountThreshold": "1240000",
		"swapMode": "ExactOut",
		"slippageBps": 50,
		"priceImpactPct": "0.001",
		"routePlan": [{"swapInfo": {"ammKey": "pool1", "label": "Orca", "inputMint": "a", "outputMint": "b", "inAmount": "1234567", "outAmount": "100000000"}, "percent": 100}],
		"contextSlot": 321
	}`, testInputMint.String(), consts.USDCMintStr, outAmount)
}

func TestGetQuote_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, testInputMint.String(), q.Get("inputMint"))
		assert.Equal(t, consts.USDCMintStr, q.Get("outputMint"))
		assert.Equal(t, "100000000", q.Get("amount"))
		assert.Equal(t, "ExactOut", q.Get("swapMode"))
		assert.Equal(t, "50", q.Get("slippageBps"))
		assert.Equal(t, "Orca,Raydium", q.Get("dexes"))
		_, _ = io.WriteString(w, quoteJSON("100000000"))
	}))
	defer srv.Close()

	q, err := newTestClient(t, srv.URL).GetQuote(context.Background(), testInputMint, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567), q.InAmount)
	assert.Equal(t, uint64(100_000000), q.RequestedAmount)
	assert.Equal(t, []string{"Orca"}, q.Venues())
	assert.Equal(t, uint64(321), q.ContextSlot)
	assert.NotEmpty(t, q.Raw)
}

func TestGetQuote_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, quoteJSON("100000000"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetQuote(context.Background(), testInputMint, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetQuote_RetryCapped(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetQuote(context.Background(), testInputMint, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrQuoteUnavailable))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestGetQuote_NonRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"no route"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetQuote(context.Background(), testInputMint, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrQuoteUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetQuote_MalformedBody(t *testing.T) {
	cases := map[string]string{
		"not json":        `<html>`,
		"missing amount":  fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"inAmount":"1","swapMode":"ExactOut"}`, testInputMint, consts.USDCMintStr),
		"non numeric":     fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"inAmount":"x","outAmount":"100000000","swapMode":"ExactOut"}`, testInputMint, consts.USDCMintStr),
		"wrong out mint":  fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"inAmount":"1","outAmount":"100000000","swapMode":"ExactOut"}`, testInputMint, consts.WSOLMintStr),
		"short outAmount": quoteJSON("99999999"),
		"exact in":        fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"inAmount":"1","outAmount":"100000000","swapMode":"ExactIn"}`, testInputMint, consts.USDCMintStr),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).GetQuote(context.Background(), testInputMint, 2)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrQuoteUnavailable))
		})
	}
}

func ixJSON(program solana.PublicKey, data []byte, accounts ...solana.PublicKey) map[string]interface{} {
	metas := make([]map[string]interface{}, 0, len(accounts))
	for i, acc := range accounts {
		metas = append(metas, map[string]interface{}{"pubkey": acc.String(), "isSigner": i == 0, "isWritable": true})
	}
	return map[string]interface{}{
		"programId": program.String(),
		"accounts":  metas,
		"data":      base64.StdEncoding.EncodeToString(data),
	}
}

func TestGetSwapInstructions_Order(t *testing.T) {
	signer := solana.NewWallet().PublicKey()
	setupProg := solana.NewWallet().PublicKey()
	swapProg := solana.NewWallet().PublicKey()
	cleanupProg := solana.NewWallet().PublicKey()
	otherProg := solana.NewWallet().PublicKey()
	lut := solana.NewWallet().PublicKey()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap-instructions", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, signer.String(), req["userPublicKey"])
		assert.Equal(t, testReference.String(), req["trackingAccount"])
		assert.Equal(t, true, req["wrapAndUnwrapSol"])
		assert.NotNil(t, req["quoteResponse"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"computeBudgetInstructions":   []interface{}{ixJSON(consts.ComputeBudgetProgram, []byte{2, 1, 0, 0, 0})},
			"setupInstructions":           []interface{}{ixJSON(setupProg, []byte{1}, signer), ixJSON(setupProg, []byte{2}, signer)},
			"swapInstruction":             ixJSON(swapProg, []byte{3}, signer),
			"cleanupInstruction":          ixJSON(cleanupProg, []byte{4}, signer),
			"otherInstructions":           []interface{}{ixJSON(otherProg, []byte{5})},
			"addressLookupTableAddresses": []string{lut.String()},
		})
	}))
	defer srv.Close()

	q := &core.Quote{Raw: json.RawMessage(quoteJSON("100000000"))}
	set, err := newTestClient(t, srv.URL).GetSwapInstructions(context.Background(), signer, q)
	require.NoError(t, err)
	require.Len(t, set.Instructions, 5)

	wantPrograms := []solana.PublicKey{setupProg, setupProg, swapProg, cleanupProg, otherProg}
	for i, ix := range set.Instructions {
		assert.Equal(t, wantPrograms[i], ix.ProgramID(), "instruction %d", i)
		data, err := ix.Data()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i + 1)}, data)
	}
	assert.Equal(t, []solana.PublicKey{lut}, set.LookupTables)
	assert.True(t, set.Instructions[2].Accounts()[0].IsSigner)
}

func TestGetSwapInstructions_MalformedDescriptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"swapInstruction":{"programId":"not-base58!","accounts":[],"data":""}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetSwapInstructions(context.Background(), solana.NewWallet().PublicKey(), &core.Quote{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrQuoteUnavailable))
}

func TestGetSwapInstructions_MissingSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"setupInstructions":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetSwapInstructions(context.Background(), solana.NewWallet().PublicKey(), &core.Quote{})
	assert.True(t, errors.Is(err, core.ErrQuoteUnavailable))
}

func TestSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		_, _ = io.WriteString(w, `{"swapTransaction":"AQID","lastValidBlockHeight":99}`)
	}))
	defer srv.Close()

	tx, height, err := newTestClient(t, srv.URL).Swap(context.Background(), solana.NewWallet().PublicKey(), &core.Quote{})
	require.NoError(t, err)
	assert.Equal(t, "AQID", tx)
	assert.Equal(t, uint64(99), height)
}
