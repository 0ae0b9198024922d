package events

// Topic constants for domain events emitted by the adjustment engine.
const (
	TopicDraftCreated      = "draft.created"
	TopicPromotionApplied  = "promotion.applied"
	TopicPromotionFailed   = "promotion.failed"
	TopicTaxesRefreshed    = "taxes.refreshed"
	TopicDocumentSubmitted = "document.submitted"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicDraftCreated,
		TopicPromotionApplied,
		TopicPromotionFailed,
		TopicTaxesRefreshed,
		TopicDocumentSubmitted,
	}
}
