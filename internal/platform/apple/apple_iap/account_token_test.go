package apple_iap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserIDCodec_RoundTrip(t *testing.T) {
	for _, userID := range []string{"1234567890", "a1bcdef234", "ABCDEF"} {
		uuid, err := UserIDToUUID(userID)
		require.NoError(t, err)
		require.Len(t, uuid, 36)

		decoded, err := UUIDToUserID(uuid)
		require.NoError(t, err)
		require.Equal(t, strings.ToLower(userID), decoded)
	}
}

func TestUserIDToUUID_Rejects(t *testing.T) {
	_, err := UserIDToUUID("")
	require.Error(t, err)
	_, err = UserIDToUUID("not-hex")
	require.Error(t, err)
	_, err = UserIDToUUID("1234567890123456789012345678901")
	require.Error(t, err)
}

func TestUUIDToUserID_RejectsForeignTokens(t *testing.T) {
	_, err := UUIDToUserID("4b825dc6-5f3b-4f8e-b9d6-4f4f2d8c1122")
	require.Error(t, err)

	_, err = UUIDToUserID("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaa1234")
	require.Error(t, err)
}
