package valueobject

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
)

// ContentDigest представляет content-addressed идентификатор снимка (Value Object)
// 16 байт MD5, закодированные в 32 hex-символа
type ContentDigest string

const contentDigestLength = md5.Size * 2

// NewContentDigest вычисляет digest для набора байт
func NewContentDigest(data []byte) ContentDigest {
	sum := md5.Sum(data)
	return ContentDigest(hex.EncodeToString(sum[:]))
}

// ParseContentDigest проверяет строковое представление digest
func ParseContentDigest(raw string) (ContentDigest, error) {
	if len(raw) != contentDigestLength {
		return "", errors.New("invalid content digest length")
	}
	for _, r := range raw {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", errors.New("invalid content digest character")
		}
	}
	return ContentDigest(raw), nil
}

// String возвращает hex-представление
func (d ContentDigest) String() string {
	return string(d)
}
