package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActor(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"alice.bsky.social", "alice.bsky.social"},
		{"@Alice.Bsky.Social", "alice.bsky.social"},
		{"  bob.example.com ", "bob.example.com"},
		{"did:plc:ewvi7nxzyoun6zhxrhs64oiz", "did:plc:ewvi7nxzyoun6zhxrhs64oiz"},
		{"did:web:example.com", "did:web:example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseActor(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseActorRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "alice", "alice..bsky.social", "did:plc", "did:PLC:abc", "https://bsky.app/profile/alice"} {
		_, err := ParseActor(raw)
		assert.Error(t, err, raw)
	}
}

func TestIsDID(t *testing.T) {
	assert.True(t, IsDID("did:plc:abc"))
	assert.False(t, IsDID("alice.bsky.social"))
}
