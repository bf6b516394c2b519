package utils

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
)

const eventPrefixLen = 4

// EncodeEvent 编码格式：4 字节事件类型（uint32 小端序）+ protobuf 序列化数据
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	buf := make([]byte, eventPrefixLen, eventPrefixLen+proto.Size(msg))
	binary.LittleEndian.PutUint32(buf, eventType)

	out, err := proto.MarshalOptions{Deterministic: true}.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return out, nil
}

// DecodeEvent 拆出事件类型并把剩余部分反序列化到 msg
func DecodeEvent(data []byte, msg proto.Message) (uint32, error) {
	if len(data) < eventPrefixLen {
		return 0, fmt.Errorf("DecodeEvent: payload too short (%d bytes)", len(data))
	}
	eventType := binary.LittleEndian.Uint32(data[:eventPrefixLen])
	if err := proto.Unmarshal(data[eventPrefixLen:], msg); err != nil {
		return eventType, fmt.Errorf("DecodeEvent: unmarshal %T: %w", msg, err)
	}
	return eventType, nil
}
