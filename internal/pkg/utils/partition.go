package utils

// PartitionHashBytes 从签名等随机字节中选取 4 字节构造 uint32 并模 mod，用于分区选择。
// 同一签名总是落到同一分区，非加密哈希。
func PartitionHashBytes(b []byte, mod uint32) uint32 {
	if len(b) < 28 || mod <= 1 {
		return 0
	}
	switch mod {
	case 2, 4, 8, 16:
		return uint32(b[27]) & (mod - 1)
	}
	hash := uint32(b[7])<<24 | uint32(b[15])<<16 | uint32(b[19])<<8 | uint32(b[27])
	return hash % mod
}
