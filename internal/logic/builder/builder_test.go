package builder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMerchant  = solana.PublicKeyFromBytes(bytes.Repeat([]byte{1}, 32))
	testReference = solana.PublicKeyFromBytes(bytes.Repeat([]byte{2}, 32))
	testPayer     = solana.PublicKeyFromBytes(bytes.Repeat([]byte{3}, 32))
	testInputMint = solana.PublicKeyFromBytes(bytes.Repeat([]byte{4}, 32))
)

type fakeAccounts map[solana.PublicKey]core.AccountState

func (f fakeAccounts) GetAccount(_ context.Context, address solana.PublicKey) (core.AccountState, error) {
	if st, ok := f[address]; ok {
		st.Address = address
		st.Exists = true
		return st, nil
	}
	return core.AccountState{Address: address}, nil
}

type fakeQuotes struct {
	quote        *core.Quote
	set          *core.InstructionSet
	quoteCalls   int
	swapIxsCalls int
}

func (f *fakeQuotes) GetQuote(_ context.Context, inputMint solana.PublicKey, quantity uint64) (*core.Quote, error) {
	f.quoteCalls++
	return f.quote, nil
}

func (f *fakeQuotes) GetSwapInstructions(_ context.Context, _ solana.PublicKey, _ *core.Quote) (*core.InstructionSet, error) {
	f.swapIxsCalls++
	return f.set, nil
}

// tokenAccountData 按 SPL Token 账户布局（165 字节）构造数据
func tokenAccountData(mint, owner solana.PublicKey, amount uint64, state uint8) []byte {
	data := make([]byte, 165)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = state
	return data
}

func newTestBuilder(t *testing.T, quotes QuoteSource, accounts AccountReader) *Builder {
	pricing, err := core.NewPricing("50", 6)
	require.NoError(t, err)
	b, err := New(quotes, accounts, pricing, Options{
		SettlementMint:     consts.USDCMint,
		SettlementDecimals: 6,
		Merchant:           testMerchant,
		Reference:          testReference,
	})
	require.NoError(t, err)
	return b
}

func fundedSettlementAccounts(t *testing.T, amount uint64, state uint8) fakeAccounts {
	ata, err := AssociatedTokenAddress(testPayer, consts.USDCMint, consts.TokenProgram)
	require.NoError(t, err)
	return fakeAccounts{
		ata: {Owner: consts.TokenProgram, Data: tokenAccountData(consts.USDCMint, testPayer, amount, state)},
	}
}

func decodeSettlement(t *testing.T, ix solana.Instruction) TransferCheckedData {
	data, err := ix.Data()
	require.NoError(t, err)
	out, err := DecodeTransferChecked(data)
	require.NoError(t, err)
	return out
}

func TestSettlementRawAmountExact(t *testing.T) {
	accounts := fundedSettlementAccounts(t, 1<<62, 1)
	b := newTestBuilder(t, &fakeQuotes{}, accounts)

	for q := uint64(1); q <= 200; q++ {
		plan, err := b.Build(context.Background(), testPayer, consts.USDCMint, q)
		require.NoError(t, err)
		want := 50 * q * 1_000_000
		assert.Equal(t, want, plan.RawAmount)

		payload := decodeSettlement(t, plan.Instructions.Last())
		assert.Equal(t, want, payload.Amount)
		assert.Equal(t, uint8(6), payload.Decimals)
	}
}

func TestSettlementTransferLayout(t *testing.T) {
	b := newTestBuilder(t, &fakeQuotes{}, fakeAccounts{})
	ix, err := b.ComposeSettlementTransfer(testPayer, 100_000000)
	require.NoError(t, err)

	assert.Equal(t, consts.TokenProgram, ix.ProgramID())
	accs := ix.Accounts()
	require.Len(t, accs, TransferAccountCount)

	source, _ := AssociatedTokenAddress(testPayer, consts.USDCMint, consts.TokenProgram)
	assert.Equal(t, source, accs[TransferAccountSource].PublicKey)
	assert.Equal(t, consts.USDCMint, accs[TransferAccountMint].PublicKey)
	assert.Equal(t, b.MerchantATA(), accs[TransferAccountDestination].PublicKey)
	assert.Equal(t, testPayer, accs[TransferAccountAuthority].PublicKey)
	assert.True(t, accs[TransferAccountAuthority].IsSigner)

	ref := accs[TransferAccountReference]
	assert.Equal(t, testReference, ref.PublicKey)
	assert.False(t, ref.IsSigner)
	assert.False(t, ref.IsWritable)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(12), data[0])
}

func TestSwapPaymentSettlementLast(t *testing.T) {
	for n := 0; n <= 6; n++ {
		set := &core.InstructionSet{}
		for i := 0; i < n; i++ {
			set.Instructions = append(set.Instructions, system.NewTransferInstruction(uint64(i+1), testPayer, testMerchant).Build())
		}
		quotes := &fakeQuotes{
			quote: &core.Quote{InputMint: testInputMint, InAmount: 5_000, RequestedAmount: 100_000000},
			set:   set,
		}
		ata, _ := AssociatedTokenAddress(testPayer, testInputMint, consts.TokenProgram)
		accounts := fakeAccounts{
			testInputMint: {Owner: consts.TokenProgram},
			ata:           {Owner: consts.TokenProgram, Data: tokenAccountData(testInputMint, testPayer, 5_000, 1)},
		}
		b := newTestBuilder(t, quotes, accounts)

		plan, err := b.Build(context.Background(), testPayer, testInputMint, 2)
		require.NoError(t, err)
		require.Len(t, plan.Instructions.Instructions, n+1)

		last := plan.Instructions.Last()
		assert.Equal(t, consts.TokenProgram, last.ProgramID())
		assert.Equal(t, uint64(100_000000), decodeSettlement(t, last).Amount)
		assert.Equal(t, testReference, last.Accounts()[TransferAccountReference].PublicKey)
		assert.Equal(t, uint64(5_000), plan.InputAmount)
	}
}

func TestSettlementSenderChecks(t *testing.T) {
	cases := []struct {
		name     string
		amount   uint64
		state    uint8
		wantErr  error
		accounts func() fakeAccounts
	}{
		{name: "frozen", amount: 1 << 40, state: 2, wantErr: core.ErrInvalidSenderAccount},
		{name: "uninitialized", amount: 1 << 40, state: 0, wantErr: core.ErrInvalidSenderAccount},
		{name: "insufficient", amount: 100_000000 - 1, state: 1, wantErr: core.ErrInsufficientFunds},
		{name: "missing", wantErr: core.ErrInvalidSenderAccount, accounts: func() fakeAccounts { return fakeAccounts{} }},
		{name: "exact balance", amount: 100_000000, state: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			accounts := fundedSettlementAccounts(t, tc.amount, tc.state)
			if tc.accounts != nil {
				accounts = tc.accounts()
			}
			b := newTestBuilder(t, &fakeQuotes{}, accounts)
			_, err := b.Build(context.Background(), testPayer, consts.USDCMint, 2)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestValidateTokenSender_WrongOwner(t *testing.T) {
	other := solana.PublicKeyFromBytes(bytes.Repeat([]byte{9}, 32))
	state := core.AccountState{Exists: true, Owner: consts.TokenProgram, Data: tokenAccountData(consts.USDCMint, other, 1<<40, 1)}
	err := ValidateTokenSender(testPayer, consts.USDCMint, state, 1)
	assert.True(t, errors.Is(err, core.ErrInvalidSenderAccount))

	state.Data = tokenAccountData(testInputMint, testPayer, 1<<40, 1)
	err = ValidateTokenSender(testPayer, consts.USDCMint, state, 1)
	assert.True(t, errors.Is(err, core.ErrInvalidSenderAccount))
}

func TestSwapPaymentPrecheckSkipsInstructions(t *testing.T) {
	quotes := &fakeQuotes{
		quote: &core.Quote{InputMint: testInputMint, InAmount: 5_000, RequestedAmount: 100_000000},
		set:   &core.InstructionSet{},
	}
	ata, _ := AssociatedTokenAddress(testPayer, testInputMint, consts.TokenProgram)
	accounts := fakeAccounts{
		testInputMint: {Owner: consts.TokenProgram},
		ata:           {Owner: consts.TokenProgram, Data: tokenAccountData(testInputMint, testPayer, 4_999, 1)},
	}
	b := newTestBuilder(t, quotes, accounts)

	_, err := b.Build(context.Background(), testPayer, testInputMint, 2)
	assert.True(t, errors.Is(err, core.ErrInsufficientFunds))
	assert.Equal(t, 1, quotes.quoteCalls)
	assert.Equal(t, 0, quotes.swapIxsCalls)
}

func TestSwapPaymentPrecheckUsesSlippageThreshold(t *testing.T) {
	quotes := &fakeQuotes{
		quote: &core.Quote{InputMint: testInputMint, InAmount: 5_000, OtherAmountThreshold: 5_025, RequestedAmount: 100_000000},
		set:   &core.InstructionSet{},
	}
	ata, _ := AssociatedTokenAddress(testPayer, testInputMint, consts.TokenProgram)
	accounts := fakeAccounts{
		testInputMint: {Owner: consts.TokenProgram},
		ata:           {Owner: consts.TokenProgram, Data: tokenAccountData(testInputMint, testPayer, 5_010, 1)},
	}
	b := newTestBuilder(t, quotes, accounts)

	// 余额够 inAmount 但不够滑点上限
	_, err := b.Build(context.Background(), testPayer, testInputMint, 2)
	assert.True(t, errors.Is(err, core.ErrInsufficientFunds), "got %v", err)
	assert.Equal(t, 0, quotes.swapIxsCalls)

	accounts[ata] = core.AccountState{Owner: consts.TokenProgram, Data: tokenAccountData(testInputMint, testPayer, 5_025, 1)}
	plan, err := b.Build(context.Background(), testPayer, testInputMint, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), plan.InputAmount)
}

func TestSwapPaymentNativeInput(t *testing.T) {
	quotes := &fakeQuotes{
		quote: &core.Quote{InputMint: consts.WSOLMint, InAmount: 2_000_000_000, RequestedAmount: 100_000000},
		set:   &core.InstructionSet{},
	}
	accounts := fakeAccounts{testPayer: {Owner: consts.SystemProgram, Lamports: 1_000_000_000}}
	b := newTestBuilder(t, quotes, accounts)

	_, err := b.Build(context.Background(), testPayer, consts.WSOLMint, 2)
	assert.True(t, errors.Is(err, core.ErrInsufficientFunds))

	accounts[testPayer] = core.AccountState{Owner: consts.SystemProgram, Lamports: 3_000_000_000}
	plan, err := b.Build(context.Background(), testPayer, consts.WSOLMint, 2)
	require.NoError(t, err)
	assert.Len(t, plan.Instructions.Instructions, 1)
}

func TestComposeNativeTransfer(t *testing.T) {
	b := newTestBuilder(t, &fakeQuotes{}, fakeAccounts{})
	sender := core.AccountState{Address: testPayer, Exists: true, Owner: consts.SystemProgram, Lamports: 1_500_000_000}

	ix, err := b.ComposeNativeTransfer(testMerchant, decimal.RequireFromString("1.25"), testPayer, sender)
	require.NoError(t, err)
	assert.Equal(t, solana.SystemProgramID, ix.ProgramID())
	data, err := ix.Data()
	require.NoError(t, err)
	// system Transfer: u32 指令号 2 + u64 lamports
	require.Len(t, data, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[:4]))
	assert.Equal(t, uint64(1_250_000_000), binary.LittleEndian.Uint64(data[4:]))

	cases := []struct {
		name    string
		amount  string
		mutate  func(s *core.AccountState)
		wantErr error
	}{
		{name: "wrong owner", amount: "1", mutate: func(s *core.AccountState) { s.Owner = consts.TokenProgram }, wantErr: core.ErrInvalidSenderAccount},
		{name: "executable", amount: "1", mutate: func(s *core.AccountState) { s.Executable = true }, wantErr: core.ErrInvalidSenderAccount},
		{name: "too precise", amount: "0.0000000001", wantErr: core.ErrInvalidRequest},
		{name: "insufficient", amount: "1.500000001", wantErr: core.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := sender
			if tc.mutate != nil {
				tc.mutate(&st)
			}
			ix, err := b.ComposeNativeTransfer(testMerchant, decimal.RequireFromString(tc.amount), testPayer, st)
			assert.Nil(t, ix)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestTransferCheckedCodec(t *testing.T) {
	data, err := EncodeTransferChecked(123456789, 6)
	require.NoError(t, err)
	require.Len(t, data, 10)

	out, err := DecodeTransferChecked(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), out.Amount)
	assert.Equal(t, uint8(6), out.Decimals)

	data[0] = 3 // Transfer
	_, err = DecodeTransferChecked(data)
	assert.Error(t, err)
}
