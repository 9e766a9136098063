package repository

// Change-feed table names. Subscriptions filter on these; repositories
// publish an event on every successful write to the matching table.
const (
	TableConversations     = "conversations"
	TableMessages          = "messages"
	TableCallNotifications = "call_notifications"
	TableSupportSessions   = "support_sessions"
	TableSupportMessages   = "support_messages"
)
