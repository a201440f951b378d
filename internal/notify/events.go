package notify

// Event types emitted by the bot. The [notify] config section's events list
// selects which of these reach the channels; sell failures bypass the filter
// via NotifyAll.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventSellExecuted   = "sell_executed"
	EventMultipleAlert  = "multiple_alert"
	EventBuyRejected    = "buy_rejected"
)
