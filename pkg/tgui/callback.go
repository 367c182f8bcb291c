package tgui

import (
	"fmt"
	"strings"
)

// Data formats inline callback data as "namespace:payload".
func Data(namespace, payload string) (string, error) {
	s := strings.TrimSpace(namespace) + ":" + payload
	if len(s) > MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(s))
	}
	return s, nil
}

// Payload returns the payload of data when it belongs to namespace.
func Payload(namespace, data string) (string, bool) {
	rest, ok := strings.CutPrefix(data, strings.TrimSpace(namespace)+":")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
