package submitter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/metrics"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type Broadcaster interface {
	// SendRawTransaction 以 skipPreflight=true、maxRetries=0 广播
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
}

type ConfirmationSource interface {
	// AwaitConfirmation 在 ctx 结束前等待确认。
	// 窗口内未确认返回 (false, nil)；链上执行失败返回包装了 core.ErrTransactionFailed 的错误。
	AwaitConfirmation(ctx context.Context, sig solana.Signature) (bool, error)
}

type BlockhashValidator interface {
	// IsBlockhashValid 交易引用的 blockhash 是否仍可被打包。
	// skipPreflight 时节点不会因 blockhash 过期拒绝广播，只能主动查询。
	IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error)
}

// Submitter 广播客户端签名的交易，并驱动 确认-超时-重广播 循环。
// 循环本身没有次数上限，blockhash 过期或调用方 ctx 结束时退出。
type Submitter struct {
	sender    Broadcaster
	confirm   ConfirmationSource
	blockhash BlockhashValidator
	window    time.Duration
}

func New(sender Broadcaster, confirm ConfirmationSource, blockhash BlockhashValidator) *Submitter {
	return &Submitter{
		sender:    sender,
		confirm:   confirm,
		blockhash: blockhash,
		window:    consts.ConfirmWindow,
	}
}

// DecodeSigned 解析 base64 交易并返回首个签名（即交易 ID），未签名的交易直接拒绝
func DecodeSigned(signedTxBase64 string) (*solana.Transaction, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(signedTxBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: transaction is not base64: %v", core.ErrInvalidRequest, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode transaction: %v", core.ErrInvalidRequest, err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return nil, nil, fmt.Errorf("%w: transaction is not signed", core.ErrInvalidRequest)
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return nil, nil, fmt.Errorf("%w: got %d signatures, message requires %d",
			core.ErrInvalidRequest, len(tx.Signatures), tx.Message.Header.NumRequiredSignatures)
	}
	return tx, raw, nil
}

// SendAndConfirm 返回的签名与客户端签名一致。
// ctx 取消时同时返回签名与 ctx 错误，交易仍可能上链，后续可凭签名补偿校验。
func (s *Submitter) SendAndConfirm(ctx context.Context, signedTxBase64 string) (solana.Signature, error) {
	tx, raw, err := DecodeSigned(signedTxBase64)
	if err != nil {
		return solana.Signature{}, err
	}
	sig := tx.Signatures[0]

	if _, err := s.sender.SendRawTransaction(ctx, raw); err != nil && !isAlreadyProcessed(err) {
		if isBlockhashExpired(err) {
			return sig, fmt.Errorf("%w: blockhash expired before first broadcast: %v", core.ErrBroadcastFailed, err)
		}
		return sig, fmt.Errorf("%w: %v", core.ErrBroadcastFailed, err)
	}

	start := time.Now()
	rebroadcasts := 0
	for {
		confirmed, err := s.awaitWindow(ctx, sig)
		if err != nil {
			if errors.Is(err, core.ErrTransactionFailed) {
				// 执行失败的交易同样已上链，是否成立由校验器判定
				return sig, fmt.Errorf("%w: %v", core.ErrConfirmationIndeterminate, err)
			}
			logger.Warnf("[Submitter] confirmation source error, sig=%s: %v", sig, err)
		}
		if confirmed {
			metrics.ConfirmSeconds.Observe(time.Since(start).Seconds())
			logger.Infof("[Submitter] confirmed sig=%s rebroadcasts=%d elapsed=%v", sig, rebroadcasts, time.Since(start))
			return sig, nil
		}
		if ctx.Err() != nil {
			return sig, ctx.Err()
		}
		if s.blockhashExpired(ctx, tx.Message.RecentBlockhash) {
			// 交易已无法再被打包，但可能已在过期前上链，交给校验器判定
			return sig, fmt.Errorf("%w: blockhash %s expired after %d rebroadcasts",
				core.ErrConfirmationIndeterminate, tx.Message.RecentBlockhash, rebroadcasts)
		}

		rebroadcasts++
		metrics.Rebroadcasts.Inc()
		if _, err := s.sender.SendRawTransaction(ctx, raw); err != nil {
			switch {
			case isBlockhashExpired(err):
				return sig, fmt.Errorf("%w: blockhash expired after %d rebroadcasts: %v",
					core.ErrConfirmationIndeterminate, rebroadcasts, err)
			case ctx.Err() != nil:
				return sig, ctx.Err()
			case !isAlreadyProcessed(err):
				logger.Warnf("[Submitter] rebroadcast #%d failed, sig=%s: %v", rebroadcasts, sig, err)
			}
		}
	}
}

// awaitWindow 单个确认窗口
func (s *Submitter) awaitWindow(ctx context.Context, sig solana.Signature) (bool, error) {
	windowCtx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()
	confirmed, err := s.confirm.AwaitConfirmation(windowCtx, sig)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return false, nil
	}
	return confirmed, err
}

// blockhashExpired 查询失败时按未过期处理，继续重广播
func (s *Submitter) blockhashExpired(ctx context.Context, hash solana.Hash) bool {
	valid, err := s.blockhash.IsBlockhashValid(ctx, hash)
	if err != nil {
		logger.Warnf("[Submitter] blockhash validity check failed, hash=%s: %v", hash, err)
		return false
	}
	return !valid
}

func isBlockhashExpired(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blockhash not found") || strings.Contains(msg, "blockhashnotfound")
}

func isAlreadyProcessed(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already been processed") || strings.Contains(msg, "alreadyprocessed")
}
