package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"communityhelp/internal/log"

	"github.com/nats-io/nats.go"
)

const SubjectRankingUpdated = "ranking.updated"

// RankingUpdatedEvent 评分提交成功（事务已提交）后发布
type RankingUpdatedEvent struct {
	PostID        uint      `json:"post_id"`
	UserID        uint      `json:"user_id"`
	RankValue     int       `json:"rank_value"`
	TotalRankings int64     `json:"total_rankings"`
	AverageRank   float64   `json:"average_rank"`
	At            time.Time `json:"at"`
}

type Publisher interface {
	PublishRankingUpdated(ctx context.Context, evt RankingUpdatedEvent) error
}

// NoopPublisher 未配置 NATS 时使用
type NoopPublisher struct{}

func (NoopPublisher) PublishRankingUpdated(context.Context, RankingUpdatedEvent) error {
	return nil
}

type NatsPublisher struct {
	nc *nats.Conn
}

func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

func (p *NatsPublisher) PublishRankingUpdated(ctx context.Context, evt RankingUpdatedEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(SubjectRankingUpdated, data)
}

// Connect 根据 url 返回发布器；url 为空返回 NoopPublisher，close 用于进程退出时释放连接
func Connect(url string) (Publisher, func(), error) {
	if url == "" {
		log.Info.Println("NATS_URL not set, ranking events disabled")
		return NoopPublisher{}, func() {}, nil
	}
	nc, err := nats.Connect(url, nats.Name("communityhelp"))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	log.Info.Printf("Connected to NATS at %s", url)
	return NewNatsPublisher(nc), func() { nc.Drain() }, nil
}

// Recorder 在内存中收集事件，测试用
type Recorder struct {
	mu     sync.Mutex
	events []RankingUpdatedEvent
}

func (r *Recorder) PublishRankingUpdated(_ context.Context, evt RankingUpdatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []RankingUpdatedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RankingUpdatedEvent(nil), r.events...)
}
