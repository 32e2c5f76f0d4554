package messages

import (
	"time"

	"github.com/parleyhq/parley/internal/users"
)

// MaxContentLength bounds message content in characters, not bytes; longer
// input is rejected before classification.
const MaxContentLength = 1000

// Message is the persisted chat message. Sentiment is computed once at
// creation and never recomputed.
type Message struct {
	ID             string     `gorm:"column:id;primaryKey;size:36;not null"`
	SenderID       string     `gorm:"column:sender_id;size:36;not null;index"`
	Content        string     `gorm:"column:content;size:1000;not null"`
	Timestamp      time.Time  `gorm:"column:timestamp;not null;index"`
	SentimentScore float64    `gorm:"column:sentiment_score;not null"`
	SentimentLabel string     `gorm:"column:sentiment_label;size:16;not null"`
	Sender         users.User `gorm:"foreignKey:SenderID;references:ID"`
}

// TableName exposes the table backing chat messages.
func (Message) TableName() string {
	return "messages"
}

// SenderView is the subset of account fields exposed alongside a message.
type SenderView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// View is the read model returned by message queries.
type View struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	SentimentScore float64    `json:"sentimentScore"`
	SentimentLabel string     `json:"sentimentLabel"`
	Sender         SenderView `json:"sender"`
}

// SentimentStat aggregates message counts per sentiment label.
type SentimentStat struct {
	Sentiment  string  `json:"sentiment"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

func viewOf(message Message) View {
	return View{
		ID:             message.ID,
		Content:        message.Content,
		Timestamp:      message.Timestamp,
		SentimentScore: message.SentimentScore,
		SentimentLabel: message.SentimentLabel,
		Sender: SenderView{
			ID:       message.Sender.ID,
			Username: message.Sender.Username,
		},
	}
}
