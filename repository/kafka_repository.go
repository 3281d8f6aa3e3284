package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"groupbuy_system/global"
	"groupbuy_system/model"

	"github.com/segmentio/kafka-go"
)

// KafkaRepository 封装与Kafka交互的仓库操作
type KafkaRepository struct {
	writer *kafka.Writer // Kafka生产者客户端
	reader *kafka.Reader // Kafka消费者客户端
}

// NewKafkaRepository 创建Kafka仓库实例
func NewKafkaRepository() *KafkaRepository {
	return &KafkaRepository{
		writer: global.KafkaWriter, // 使用全局Kafka生产者
		reader: global.KafkaReader, // 使用全局Kafka消费者
	}
}

// SendGroupEventMessage 发送团事件消息到Kafka
func (k *KafkaRepository) SendGroupEventMessage(ctx context.Context, event *model.GroupEventMessage) error {
	// 将团事件序列化为JSON
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal group event message failed: %v", err)
	}

	// 构造Kafka消息
	msg := kafka.Message{
		Key:   []byte(event.GroupId), // 使用团ID作为key，确保同一个团的事件路由到同一分区
		Value: jsonData,
		Headers: []kafka.Header{
			{
				Key:   "group_id",
				Value: []byte(event.GroupId), // 在消息头中也存储团ID
			},
			{
				Key:   "event_type",
				Value: []byte(event.EventType), // 标识事件类型
			},
		},
	}

	// 发送消息
	return k.writer.WriteMessages(ctx, msg)
}

// ConsumeGroupEvents 消费团事件消息
func (k *KafkaRepository) ConsumeGroupEvents(ctx context.Context, handler func(event model.GroupEventMessage) error) error {
	// 持续消费消息
	for {
		// 读取消息
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("read kafka message failed: %v", err)
		}

		// 检查消息类型，只处理团事件消息
		if getHeaderValue(msg.Headers, "event_type") == "" {
			continue // 跳过非团事件消息
		}

		// 反序列化团事件消息
		var event model.GroupEventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("Failed to unmarshal group event message: %v, message: %s", err, string(msg.Value))
			continue // 跳过无法解析的消息
		}

		// 记录收到的消息
		log.Printf("Received group event: Type=%s, GroupID=%s, UserID=%d, JoinCount=%d/%d",
			event.EventType, event.GroupId, event.UserId, event.JoinCount, event.Capacity)

		// 调用处理函数处理消息
		if err := handler(event); err != nil {
			log.Printf("Handle group event failed: %v", err)
			// 不返回错误，继续处理下一条消息
		}
	}
}

// getHeaderValue 从消息头中获取指定键的值
func getHeaderValue(headers []kafka.Header, key string) string {
	for _, header := range headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}

// Close 关闭Kafka生产者和消费者连接
func (k *KafkaRepository) Close() error {
	// 关闭生产者
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer failed: %v", err)
	}
	// 关闭消费者
	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader failed: %v", err)
	}
	return nil
}
