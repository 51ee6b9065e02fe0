package apple_iap

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// appAccountToken must be a UUID, so user ids are packed into one with a
// reversible length-prefixed hex scheme:
// [2-hex len][hex userID][padding to 32 with 'a'].
const (
	uuidHexLen      = 32
	maxUserIDHexLen = 30
	padChar         = "a"
)

func UserIDToUUID(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}
	normalized := strings.ToLower(userID)
	if !isHex(normalized) {
		return "", fmt.Errorf("user id %q is not valid hex", userID)
	}
	if len(normalized) > maxUserIDHexLen {
		return "", fmt.Errorf("hex string too long: max length is %d", maxUserIDHexLen)
	}

	uuidHex := fmt.Sprintf("%02x", len(normalized)) + normalized
	uuidHex += strings.Repeat(padChar, uuidHexLen-len(uuidHex))
	return uuidHex[:8] + "-" + uuidHex[8:12] + "-" + uuidHex[12:16] + "-" + uuidHex[16:20] + "-" + uuidHex[20:], nil
}

func UUIDToUserID(uuid string) (string, error) {
	clean := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(clean) != uuidHexLen || !isHex(clean) {
		return "", fmt.Errorf("invalid uuid format")
	}
	n, err := strconv.ParseUint(clean[:2], 16, 8)
	if err == nil {
		size := int(n)
		if size > 0 && size <= maxUserIDHexLen {
			payload := clean[2 : 2+size]
			if strings.Trim(clean[2+size:], padChar) == "" {
				return payload, nil
			}
		}
	}
	return "", fmt.Errorf("uuid is not encoded by known user id scheme")
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !(unicode.IsDigit(ch) || ('a' <= ch && ch <= 'f')) {
			return false
		}
	}
	return true
}
