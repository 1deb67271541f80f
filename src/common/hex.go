package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeToString returns the UPPERCASE string representation of hexBytes with
// the 0X prefix
func EncodeToString(hexBytes []byte) string {
	return fmt.Sprintf("0X%X", hexBytes)
}

// DecodeFromString converts a hex string with 0X prefix to a byte slice
func DecodeFromString(hexString string) ([]byte, error) {
	if len(hexString) < 2 || !strings.EqualFold(hexString[:2], "0x") {
		return nil, fmt.Errorf("hex string %q lacks the 0X prefix", hexString)
	}
	return hex.DecodeString(hexString[2:])
}

// ShortHex is the first bytes of data in lower-case hex, for log fields.
func ShortHex(data []byte) string {
	if len(data) > 4 {
		data = data[:4]
	}
	return hex.EncodeToString(data)
}
