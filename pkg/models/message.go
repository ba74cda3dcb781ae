package models

import "time"

// Category is one of the fixed classification outcomes for an inbound message.
type Category string

const (
	CategoryInterested      Category = "Interested"
	CategoryNotInterested   Category = "Not Interested"
	CategoryMoreInformation Category = "More Information"
	CategoryUncategorized   Category = "Uncategorized"
	CategoryError           Category = "Error"
)

// InboundMessage is the normalized form of a provider message payload.
// It is created by the envelope extractor and is read-only afterwards.
type InboundMessage struct {
	ProviderID   string    // Provider message ID, unique per mailbox
	SenderName   string    // Display name from the From header, may be empty
	SenderEmail  string    // Sender address
	Subject      string    // Subject, "(No Subject)" when absent
	BodyText     string    // Plain text body
	DiscoveredAt time.Time // When the message was extracted
}

// Classification is the result of classifying an inbound message.
type Classification struct {
	Category Category
	BodyText string // The classified message body
	Err      error  // Set when Category is CategoryError
}
