package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ContentFlow/internal/storage/mysql"
)

// Record 是一次工具动作在队列中的表示。
type Record struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
	ToolName  string `json:"toolName"`
	Input     string `json:"input"`
	Status    string `json:"status"`
	Result    string `json:"result"`
	CreatedAt int64  `json:"createdAt"`
}

// Action 转换为仓库中的动作记录。
func (r Record) Action() mysql.Action {
	created := r.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}
	return mysql.Action{
		RequestID: r.RequestID,
		UserID:    r.UserID,
		ProjectID: r.ProjectID,
		ToolName:  r.ToolName,
		Input:     r.Input,
		Status:    r.Status,
		Result:    r.Result,
		CreatedAt: created,
	}
}

func encode(record Record) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("序列化动作记录失败: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (Record, error) {
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, fmt.Errorf("解析动作记录失败: %w", err)
	}
	return record, nil
}

// Handler 处理来自队列的动作记录。
type Handler func(ctx context.Context, record Record) error

// Producer 负责向队列投递动作记录。
type Producer interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

// Consumer 负责从队列中消费动作记录。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
