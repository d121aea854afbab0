package storage

import "time"

// Session represents one agent conversation inside a project
type Session struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	ProjectID string    `json:"projectId" gorm:"index;not null"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message represents one message in a session
type Message struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	ProjectID   string     `json:"projectId" gorm:"index;not null"`
	SessionID   string     `json:"sessionId" gorm:"index;not null"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Part represents one ordered chunk of a message: streamed text,
// a tool call, or a tool result
type Part struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	ProjectID string    `json:"projectId" gorm:"index;not null"`
	SessionID string    `json:"sessionId" gorm:"index"`
	MessageID string    `json:"messageId" gorm:"index;not null"`
	Kind      string    `json:"kind"` // text, tool_call, tool_result
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}
