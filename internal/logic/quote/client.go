package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sol-pay-gateway/internal/config"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/zeromicro/go-zero/rest/httpc"
)

const (
	swapModeExactOut = "ExactOut"

	defaultInitialInterval = 300 * time.Millisecond
	backoffMultiplier      = 2
	maxResponseBytes       = 4 << 20
)

// retryableStatus 只有这些状态码会触发重试
var retryableStatus = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("aggregator status %d: %s", e.code, e.body)
}

// Client 兑换聚合器客户端，只做 HTTP 与结构解析，不依赖指令构建器。
type Client struct {
	endpoint       string
	slippageBps    int
	venues         []string
	maxAttempts    int
	settlementMint solana.PublicKey
	reference      solana.PublicKey
	pricing        core.Pricing
	http           httpc.Service

	initialInterval time.Duration
}

func NewClient(cfg config.AggregatorConfig, pricing core.Pricing, settlementMint, reference solana.PublicKey) *Client {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 4
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint:        strings.TrimRight(cfg.Endpoint, "/"),
		slippageBps:     cfg.SlippageBps,
		venues:          cfg.VenueAllowList,
		maxAttempts:     attempts,
		settlementMint:  settlementMint,
		reference:       reference,
		pricing:         pricing,
		http:            httpc.NewServiceWithClient("aggregator", &http.Client{Timeout: timeout}),
		initialInterval: defaultInitialInterval,
	}
}

// GetQuote 请求 ExactOut 报价：输出为结算 token，数量为 单价*quantity 换算到最小单位
func (c *Client) GetQuote(ctx context.Context, inputMint solana.PublicKey, quantity uint64) (*core.Quote, error) {
	rawAmount, err := c.pricing.RawAmount(quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrQuoteUnavailable, err)
	}

	params := url.Values{}
	params.Set("inputMint", inputMint.String())
	params.Set("outputMint", c.settlementMint.String())
	params.Set("amount", strconv.FormatUint(rawAmount, 10))
	params.Set("swapMode", swapModeExactOut)
	params.Set("slippageBps", strconv.Itoa(c.slippageBps))
	if len(c.venues) > 0 {
		params.Set("dexes", strings.Join(c.venues, ","))
	}
	target := c.endpoint + "/quote?" + params.Encode()

	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrQuoteUnavailable, err)
	}

	q, err := decodeQuote(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrQuoteUnavailable, err)
	}
	if !q.OutputMint.Equals(c.settlementMint) {
		return nil, fmt.Errorf("%w: quote output mint %s is not the settlement mint", core.ErrQuoteUnavailable, q.OutputMint)
	}
	if !q.InputMint.Equals(inputMint) {
		return nil, fmt.Errorf("%w: quote input mint %s, requested %s", core.ErrQuoteUnavailable, q.InputMint, inputMint)
	}
	if q.OutAmount < rawAmount {
		return nil, fmt.Errorf("%w: quote outAmount %d below requested %d", core.ErrQuoteUnavailable, q.OutAmount, rawAmount)
	}
	q.RequestedAmount = rawAmount

	logger.Debugf("[QuoteClient] quote ok: in=%s inAmount=%d out=%d venues=%v slot=%d",
		inputMint, q.InAmount, rawAmount, q.Venues(), q.ContextSlot)
	return q, nil
}

// GetSwapInstructions 请求拆解后的指令集合，保持聚合器给出的顺序
func (c *Client) GetSwapInstructions(ctx context.Context, signer solana.PublicKey, q *core.Quote) (*core.InstructionSet, error) {
	var w swapInstructionsResponse
	if err := c.postJSON(ctx, "/swap-instructions", c.newSwapRequest(signer, q), &w); err != nil {
		return nil, err
	}
	set, err := decodeInstructionSet(&w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrQuoteUnavailable, err)
	}
	return set, nil
}

// Swap 单次调用返回聚合器组装好的交易（base64）。
// 该交易无法追加结算转账，支付流程不使用。
func (c *Client) Swap(ctx context.Context, signer solana.PublicKey, q *core.Quote) (string, uint64, error) {
	var w swapResponse
	if err := c.postJSON(ctx, "/swap", c.newSwapRequest(signer, q), &w); err != nil {
		return "", 0, err
	}
	if w.SwapTransaction == nil || *w.SwapTransaction == "" {
		return "", 0, fmt.Errorf("%w: swap response missing swapTransaction", core.ErrQuoteUnavailable)
	}
	return *w.SwapTransaction, w.LastValidBlockHeight, nil
}

func (c *Client) newSwapRequest(signer solana.PublicKey, q *core.Quote) swapRequest {
	req := swapRequest{
		UserPublicKey:    signer.String(),
		QuoteResponse:    q.Raw,
		WrapAndUnwrapSol: true,
	}
	if !c.reference.IsZero() {
		req.TrackingAccount = c.reference.String()
	}
	return req
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", core.ErrQuoteUnavailable, err)
	}
	target := c.endpoint + path
	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrQuoteUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", core.ErrQuoteUnavailable, path, err)
	}
	return nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.Multiplier = backoffMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = c.initialInterval << uint(c.maxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

// doWithRetry 对传输错误与白名单状态码做指数退避重试，其余错误立即返回
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		metrics.QuoteAttempts.Inc()
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.DoRequest(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			se := &statusError{code: resp.StatusCode, body: truncate(string(data), 256)}
			if _, ok := retryableStatus[resp.StatusCode]; ok {
				return se
			}
			return backoff.Permanent(se)
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warnf("[QuoteClient] attempt %d failed, retry in %v: %v", attempt, wait, err)
	}
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
