package types

import "crypto/rand"

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomAlnum(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// fixed fill so ids stay well-formed regardless.
		for i := range buf {
			buf[i] = 0
		}
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// NewCompletionID returns a chat completion id of the form chatcmpl-XXXXXXXX.
func NewCompletionID() string {
	return "chatcmpl-" + randomAlnum(8)
}

// NewToolCallID returns a tool call id of the form call_XXXXXXXX.
func NewToolCallID() string {
	return "call_" + randomAlnum(8)
}
