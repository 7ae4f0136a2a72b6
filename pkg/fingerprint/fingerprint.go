// Package fingerprint 计算文本的快速内容指纹，仅用于变更检测，不具备任何安全性。
package fingerprint

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size 是指纹的十六进制字符宽度。
const Size = 16

// Of 返回 text 的 xxhash64 指纹，固定为 16 位小写十六进制字符串。
func Of(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// OfOptional 对可选文本计算指纹，nil 输入返回 nil。
func OfOptional(text *string) *string {
	if text == nil {
		return nil
	}
	fp := Of(*text)
	return &fp
}

// Changed 判断文本相对已存储的指纹是否发生了变化。
// stored 为 nil 时视为从未计算过。
func Changed(text string, stored *string) bool {
	return stored == nil || *stored != Of(text)
}
