package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairKey_OrderIndependent(t *testing.T) {
	req := require.New(t)
	req.Equal(PairKey("alice", "bob"), PairKey("bob", "alice"))
	req.Equal("alice|bob", PairKey("bob", "alice"))
}

func TestValidateContent(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateContent("alice", "bob", "hello"))

	err := ValidateContent("alice", "alice", "hello")
	req.Error(err)
	req.True(IsValidation(err))

	req.True(IsValidation(ValidateContent("alice", "bob", "")))
	req.True(IsValidation(ValidateContent("alice", "bob", "   ")))
	req.True(IsValidation(ValidateContent("", "bob", "hello")))

	oversized := strings.Repeat("x", MaxContentRunes+1)
	req.True(IsValidation(ValidateContent("alice", "bob", oversized)))

	// Exactly at the cap is fine.
	req.NoError(ValidateContent("alice", "bob", strings.Repeat("x", MaxContentRunes)))
}

func TestMessage_CounterpartOf(t *testing.T) {
	req := require.New(t)
	m := Message{SenderID: "alice", ReceiverID: "bob"}
	req.Equal("bob", m.CounterpartOf("alice"))
	req.Equal("alice", m.CounterpartOf("bob"))
}
