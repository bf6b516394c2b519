package submitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"sol-pay-gateway/internal/logic/core"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  [][]byte
	errAt map[int]error // 第 n 次发送（从 1 开始）返回的错误
}

func (f *fakeSender) SendRawTransaction(_ context.Context, raw []byte) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), raw...))
	if err, ok := f.errAt[len(f.sent)]; ok {
		return solana.Signature{}, err
	}
	return solana.Signature{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type scriptedConfirm struct {
	mu      sync.Mutex
	results []bool
	err     error
	calls   int
}

func (s *scriptedConfirm) AwaitConfirmation(ctx context.Context, _ solana.Signature) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	if len(s.results) == 0 {
		return false, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

// blockingConfirm 一直等到窗口结束
type blockingConfirm struct{}

func (blockingConfirm) AwaitConfirmation(ctx context.Context, _ solana.Signature) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

// expiringBlockhash 前 validFor 次查询返回有效，之后返回过期
type expiringBlockhash struct {
	mu       sync.Mutex
	validFor int
	calls    int
	hashes   []solana.Hash
}

func (e *expiringBlockhash) IsBlockhashValid(_ context.Context, hash solana.Hash) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.hashes = append(e.hashes, hash)
	return e.validFor < 0 || e.calls <= e.validFor, nil
}

func alwaysValid() *expiringBlockhash {
	return &expiringBlockhash{validFor: -1}
}

func signedTx(t *testing.T) (string, solana.Signature) {
	wallet := solana.NewWallet()
	to := solana.PublicKeyFromBytes(bytes.Repeat([]byte{1}, 32))
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, wallet.PublicKey(), to).Build()},
		solana.HashFromBytes(bytes.Repeat([]byte{9}, 32)),
		solana.TransactionPayer(wallet.PublicKey()),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw), tx.Signatures[0]
}

func newTestSubmitter(sender Broadcaster, confirm ConfirmationSource) *Submitter {
	return newTestSubmitterWithBlockhash(sender, confirm, alwaysValid())
}

func newTestSubmitterWithBlockhash(sender Broadcaster, confirm ConfirmationSource, blockhash BlockhashValidator) *Submitter {
	s := New(sender, confirm, blockhash)
	s.window = 20 * time.Millisecond
	return s
}

func TestSendAndConfirm_RebroadcastsUntilConfirmed(t *testing.T) {
	b64, wantSig := signedTx(t)
	sender := &fakeSender{}
	confirm := &scriptedConfirm{results: []bool{false, false, true}}

	sig, err := newTestSubmitter(sender, confirm).SendAndConfirm(context.Background(), b64)
	require.NoError(t, err)
	assert.Equal(t, wantSig, sig)

	// 首次广播 + 两次重广播
	require.Equal(t, 3, sender.count())
	raw, _ := base64.StdEncoding.DecodeString(b64)
	for _, sent := range sender.sent {
		assert.Equal(t, raw, sent)
	}
}

func TestSendAndConfirm_BlockhashExpired(t *testing.T) {
	b64, wantSig := signedTx(t)
	sender := &fakeSender{errAt: map[int]error{3: errors.New("Transaction simulation failed: Blockhash not found")}}

	sig, err := newTestSubmitter(sender, &scriptedConfirm{}).SendAndConfirm(context.Background(), b64)
	assert.True(t, errors.Is(err, core.ErrConfirmationIndeterminate))
	assert.Equal(t, wantSig, sig)
	assert.Equal(t, 3, sender.count())
}

func TestSendAndConfirm_StopsWhenBlockhashNoLongerValid(t *testing.T) {
	b64, wantSig := signedTx(t)
	sender := &fakeSender{}
	blockhash := &expiringBlockhash{validFor: 3}

	sig, err := newTestSubmitterWithBlockhash(sender, &scriptedConfirm{}, blockhash).SendAndConfirm(context.Background(), b64)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConfirmationIndeterminate))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, wantSig, sig)

	// 首次广播 + 三次重广播，第四个窗口结束时发现过期
	assert.Equal(t, 4, sender.count())
	assert.Equal(t, 4, blockhash.calls)
	for _, h := range blockhash.hashes {
		assert.Equal(t, solana.HashFromBytes(bytes.Repeat([]byte{9}, 32)), h)
	}
}

func TestSendAndConfirm_BlockhashCheckErrorKeepsLooping(t *testing.T) {
	b64, _ := signedTx(t)
	sender := &fakeSender{}
	confirm := &scriptedConfirm{results: []bool{false, true}}

	_, err := newTestSubmitterWithBlockhash(sender, confirm, failingBlockhash{}).SendAndConfirm(context.Background(), b64)
	require.NoError(t, err)
	assert.Equal(t, 2, sender.count())
}

type failingBlockhash struct{}

func (failingBlockhash) IsBlockhashValid(context.Context, solana.Hash) (bool, error) {
	return false, errors.New("rpc unavailable")
}

func TestSendAndConfirm_TransientRebroadcastErrorKeepsLooping(t *testing.T) {
	b64, _ := signedTx(t)
	sender := &fakeSender{errAt: map[int]error{2: errors.New("connection reset")}}
	confirm := &scriptedConfirm{results: []bool{false, false, true}}

	_, err := newTestSubmitter(sender, confirm).SendAndConfirm(context.Background(), b64)
	require.NoError(t, err)
	assert.Equal(t, 3, sender.count())
}

func TestSendAndConfirm_CallerDeadline(t *testing.T) {
	b64, wantSig := signedTx(t)
	sender := &fakeSender{}

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	sig, err := newTestSubmitter(sender, blockingConfirm{}).SendAndConfirm(ctx, b64)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, wantSig, sig)
	assert.GreaterOrEqual(t, sender.count(), 2)
}

func TestSendAndConfirm_ExecutionFailure(t *testing.T) {
	b64, _ := signedTx(t)
	confirm := &scriptedConfirm{err: core.ErrTransactionFailed}

	_, err := newTestSubmitter(&fakeSender{}, confirm).SendAndConfirm(context.Background(), b64)
	assert.True(t, errors.Is(err, core.ErrConfirmationIndeterminate))
}

func TestSendAndConfirm_RejectsUnsigned(t *testing.T) {
	wallet := solana.NewWallet()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, wallet.PublicKey(), wallet.PublicKey()).Build()},
		solana.Hash{},
		solana.TransactionPayer(wallet.PublicKey()),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	sender := &fakeSender{}
	_, err = newTestSubmitter(sender, &scriptedConfirm{}).SendAndConfirm(context.Background(), base64.StdEncoding.EncodeToString(raw))
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))
	assert.Equal(t, 0, sender.count())

	_, err = newTestSubmitter(sender, &scriptedConfirm{}).SendAndConfirm(context.Background(), "%%%")
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))
}

func TestSendAndConfirm_FirstBroadcastFails(t *testing.T) {
	b64, _ := signedTx(t)
	sender := &fakeSender{errAt: map[int]error{1: errors.New("node is unhealthy")}}
	confirm := &scriptedConfirm{}

	_, err := newTestSubmitter(sender, confirm).SendAndConfirm(context.Background(), b64)
	assert.True(t, errors.Is(err, core.ErrBroadcastFailed))
	assert.Equal(t, 0, confirm.calls)
}
