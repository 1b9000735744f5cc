package utils

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func GenerateNanoIDWithPrefix(prefix string, size int) string {
	id, err := gonanoid.Generate(idAlphabet, size)
	if err != nil {
		panic(err)
	}
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// FallbackMessageID builds a stable dedup identity for a message that carries no
// Message-ID header. It depends only on the remote id so redelivery maps to the same value.
func FallbackMessageID(remoteMessageID string) string {
	return strings.ToLower(remoteMessageID) + "@gmail.remote"
}
