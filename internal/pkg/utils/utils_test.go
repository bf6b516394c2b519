package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEncodeDecodeEvent(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"signature": "abc",
		"quantity":  3,
	})
	require.NoError(t, err)

	data, err := EncodeEvent(7, msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0}, data[:4])

	var out structpb.Struct
	eventType, err := DecodeEvent(data, &out)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), eventType)
	assert.Equal(t, "abc", out.Fields["signature"].GetStringValue())
	assert.Equal(t, float64(3), out.Fields["quantity"].GetNumberValue())

	_, err = DecodeEvent([]byte{1, 2}, &out)
	assert.Error(t, err)
}

func TestPartitionHashBytes(t *testing.T) {
	sig := bytes.Repeat([]byte{0xAB}, 64)
	assert.Equal(t, uint32(0), PartitionHashBytes(sig, 1))
	assert.Equal(t, uint32(0), PartitionHashBytes(sig[:10], 8))
	assert.Equal(t, uint32(0xAB&7), PartitionHashBytes(sig, 8))

	p := PartitionHashBytes(sig, 12)
	assert.Less(t, p, uint32(12))
	assert.Equal(t, p, PartitionHashBytes(sig, 12))
}
