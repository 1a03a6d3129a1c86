package engine

import (
	"context"
	"time"

	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

// ChatRequest is one incoming message.
type ChatRequest struct {
	Message  string   `json:"message"`
	UserID   string   `json:"userId"`
	UserType UserType `json:"userType"`
}

// ChatResponse is the reply to one message. Numbers are preformatted for
// display.
type ChatResponse struct {
	Response        string `json:"response"`
	StageInfo       string `json:"stageInfo"`
	MoodIndex       string `json:"moodIndex"`
	Confidence      string `json:"confidence"`
	EmotionAnalysis string `json:"emotionAnalysis"`
	AlertFlag       string `json:"alertFlag"`
	UserType        string `json:"userType"`

	// BatchID links the persisted records of this turn. Empty offline.
	BatchID string `json:"batchId,omitempty"`
}

// Status describes the running service.
type Status struct {
	Status           string    `json:"status"`
	Version          string    `json:"version"`
	Timestamp        time.Time `json:"timestamp"`
	ActiveUsers      int       `json:"activeUsers"`
	BackendAvailable bool      `json:"backendAvailable"`
	Message          string    `json:"message"`
	Store            string    `json:"store,omitempty"`
	Breaker          string    `json:"breaker,omitempty"`
}

// Status values and messages.
const (
	StatusRunning = "running"
	StatusLimited = "limited"

	runningMessage = "情感支持聊天机器人服务正常运行"
	limitedMessage = "前端已部署，等待后端连接"
)

// Service is what the HTTP and CLI layers talk to. Engine implements it
// over a live store; Offline implements it when no store could be opened.
type Service interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Reset(ctx context.Context, userID string) error
	Statistics(ctx context.Context, userID string) (*store.Statistics, error)
	EmotionHistory(ctx context.Context, userID string, days int) ([]store.EmotionSample, error)
	StageTrajectory(ctx context.Context, userID string, limit int) ([]store.StageSample, error)
	InteractionSummary(ctx context.Context, userID string, limit int) ([]store.Interaction, error)
	StageAnalysis(ctx context.Context, userID string) (*userstate.StageAnalysis, error)
	Overview(ctx context.Context, userID string) (*userstate.Overview, error)
	Status(ctx context.Context) Status
	Available() bool
}
