package engine

import (
	"context"
	"time"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

const (
	offlineReply    = "亲爱的，我感受到了你的情感。现在你可能需要连接真实的后端服务来获得完整的支持。请检查后端是否已正确部署。"
	offlineAnalysis = "离线模式 - 请部署完整的后端"
)

// Offline serves when no store is available. Chat answers with a fixed
// notice and touches no state; every stateful call fails with
// apierr.ErrBackendUnavailable.
type Offline struct {
	Version string
	now     func() time.Time
}

// NewOffline creates the offline service.
func NewOffline(version string) *Offline {
	return &Offline{Version: version, now: time.Now}
}

func (o *Offline) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	return &ChatResponse{
		Response:        offlineReply,
		StageInfo:       stage.UnknownLabel,
		MoodIndex:       "--",
		Confidence:      "0.00",
		EmotionAnalysis: offlineAnalysis,
		AlertFlag:       "",
		UserType:        string(req.UserType),
	}, nil
}

func (o *Offline) Reset(context.Context, string) error {
	return apierr.Unavailable()
}

func (o *Offline) Statistics(context.Context, string) (*store.Statistics, error) {
	return nil, apierr.Unavailable()
}

func (o *Offline) EmotionHistory(context.Context, string, int) ([]store.EmotionSample, error) {
	return nil, apierr.Unavailable()
}

func (o *Offline) StageTrajectory(context.Context, string, int) ([]store.StageSample, error) {
	return nil, apierr.Unavailable()
}

func (o *Offline) InteractionSummary(context.Context, string, int) ([]store.Interaction, error) {
	return nil, apierr.Unavailable()
}

func (o *Offline) StageAnalysis(context.Context, string) (*userstate.StageAnalysis, error) {
	return nil, apierr.Unavailable()
}

func (o *Offline) Overview(context.Context, string) (*userstate.Overview, error) {
	return nil, apierr.Unavailable()
}

func (o *Offline) Status(context.Context) Status {
	return Status{
		Status:           StatusLimited,
		Version:          o.Version,
		Timestamp:        o.now(),
		ActiveUsers:      0,
		BackendAvailable: false,
		Message:          limitedMessage,
	}
}

func (o *Offline) Available() bool { return false }
