package chat

// CharsPerToken is the heuristic ratio used by the estimator.
const CharsPerToken = 4

// MessageOverhead approximates role and framing tokens added per message.
const MessageOverhead = 4

// EstimateText approximates token usage as ceil(len(text)/4).
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessage approximates token usage for one message including overhead.
func EstimateMessage(msg Message) int {
	return EstimateText(msg.Content) + MessageOverhead
}

// EstimateMessages sums the estimate across messages.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessage(msg)
	}
	return total
}
