package transport

const (
	SinglePartLimit = 160
	MultipartSize   = 153
)

// Divide splits body into message parts. Bodies of up to SinglePartLimit
// characters stay whole; longer ones become MultipartSize-character parts.
func Divide(body string) []string {
	runes := []rune(body)
	if len(runes) <= SinglePartLimit {
		return []string{body}
	}
	parts := make([]string, 0, (len(runes)+MultipartSize-1)/MultipartSize)
	for start := 0; start < len(runes); start += MultipartSize {
		end := min(start+MultipartSize, len(runes))
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
