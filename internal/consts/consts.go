package consts

import "time"

const (
	// NativeDecimals SOL 的最大精度（lamports）
	NativeDecimals = 9

	// ProvisionalComputeUnitLimit 模拟阶段使用的宽松 CU 上限（单笔交易最大值）
	ProvisionalComputeUnitLimit uint32 = 1_400_000
	// ProvisionalComputeUnitPrice 模拟阶段的占位优先费（µlamports/CU）
	ProvisionalComputeUnitPrice uint64 = 1
	// DefaultPriorityFeeMicroLamports 优先费估算不可用时的兜底值
	DefaultPriorityFeeMicroLamports uint64 = 10_000

	// ConfirmWindow 每轮确认等待时间，超时后重新广播同一笔交易
	ConfirmWindow = 2 * time.Second

	// 查询最终确认交易的重试策略。confirmed 到 finalized 约 32 个 slot（13s 左右），需留足余量
	TxLookupAttempts = 30
	TxLookupDelay    = time.Second

	// ResumeMinAge submitted 记录登记超过该时长才由补偿任务接手
	ResumeMinAge = 2 * time.Minute
	// AbandonAfter submitted 记录超过该时长仍查不到交易则放弃（blockhash 早已过期）
	AbandonAfter = 30 * time.Minute
)
