package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/utils"

	"google.golang.org/protobuf/types/known/structpb"
)

// EventPaymentFulfilled 履约事件的类型前缀
const EventPaymentFulfilled uint32 = 1

// KafkaFulfiller 把已校验的支付连同原始预约数据投递到 Kafka，由下游发放服务
type KafkaFulfiller struct {
	producer   Producer
	topic      string
	partitions uint32
	timeout    time.Duration
}

func NewKafkaFulfiller(producer Producer, topic string, partitions int, timeout time.Duration) *KafkaFulfiller {
	if partitions <= 0 {
		partitions = 1
	}
	return &KafkaFulfiller{
		producer:   producer,
		topic:      topic,
		partitions: uint32(partitions),
		timeout:    timeout,
	}
}

func (f *KafkaFulfiller) Fulfill(ctx context.Context, payment *core.VerifiedPayment, booking json.RawMessage) error {
	msg, err := BuildFulfillmentEvent(payment, booking)
	if err != nil {
		return err
	}
	value, err := utils.EncodeEvent(EventPaymentFulfilled, msg)
	if err != nil {
		return err
	}

	job := &KafkaJob{
		Topic:     f.topic,
		Partition: int32(utils.PartitionHashBytes(payment.Signature[:], f.partitions)),
		Key:       []byte(payment.Signature.String()),
		Value:     value,
	}
	_, failed := SendKafkaJobs(ctx, f.producer, []*KafkaJob{job}, f.timeout)
	if len(failed) > 0 {
		return fmt.Errorf("publish fulfillment %s: %w", payment.Signature, failed[0].Err)
	}
	logger.Infof("[Fulfiller] published %s, quantity=%d, partition=%d", payment.Signature, payment.Quantity, job.Partition)
	return nil
}

// BuildFulfillmentEvent 数量取自链上校验结果；预约数据为 JSON 对象时原样嵌入，否则按字符串保存
func BuildFulfillmentEvent(payment *core.VerifiedPayment, booking json.RawMessage) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"signature":   payment.Signature.String(),
		"signer":      payment.Signer.String(),
		"mint":        payment.Mint.String(),
		"destination": payment.Destination.String(),
		"raw_amount":  fmt.Sprintf("%d", payment.RawAmount),
		"quantity":    payment.Quantity,
		"slot":        payment.Slot,
		"block_time":  payment.BlockTime,
	}
	if len(booking) > 0 {
		var obj map[string]interface{}
		if err := json.Unmarshal(booking, &obj); err == nil && obj != nil {
			fields["booking"] = obj
		} else {
			fields["booking"] = string(booking)
		}
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build fulfillment event: %w", err)
	}
	return msg, nil
}

// LogFulfiller 未配置 Kafka 时使用，只记录日志
type LogFulfiller struct{}

func (LogFulfiller) Fulfill(_ context.Context, payment *core.VerifiedPayment, booking json.RawMessage) error {
	logger.Infof("[Fulfiller] fulfilled %s, quantity=%d, booking=%s", payment.Signature, payment.Quantity, string(booking))
	return nil
}
