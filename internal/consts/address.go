package consts

import "github.com/gagliardetto/solana-go"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	//  Programs
	SystemProgramStr          = "11111111111111111111111111111111"
	TokenProgramStr           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	TokenProgram2022Str       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramStr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramIdStr = "ComputeBudget111111111111111111111111111111"
	AddressLookupTableStr     = "AddressLookupTab1e1111111111111111111111111"

	// 常用 mint
	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMintStr = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

var (
	SystemProgram          = solana.MustPublicKeyFromBase58(SystemProgramStr)
	TokenProgram           = solana.MustPublicKeyFromBase58(TokenProgramStr)
	TokenProgram2022       = solana.MustPublicKeyFromBase58(TokenProgram2022Str)
	AssociatedTokenProgram = solana.MustPublicKeyFromBase58(AssociatedTokenProgramStr)
	ComputeBudgetProgram   = solana.MustPublicKeyFromBase58(ComputeBudgetProgramIdStr)
	AddressLookupTable     = solana.MustPublicKeyFromBase58(AddressLookupTableStr)

	WSOLMint = solana.MustPublicKeyFromBase58(WSOLMintStr)
	USDCMint = solana.MustPublicKeyFromBase58(USDCMintStr)
)

// IsSPLTokenProgram 判断是否为 Token v1 或 Token-2022 程序
func IsSPLTokenProgram(programID solana.PublicKey) bool {
	return programID.Equals(TokenProgram) || programID.Equals(TokenProgram2022)
}
