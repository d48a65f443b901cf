package utils

// UTFBytesToString converts UTF-8 bytes to string
func UTFBytesToString(data []byte) string {
	return string(data)
}
