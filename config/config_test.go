package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// validYaml 完整合法的配置样例
const validYaml = `
server:
  port: 8080
database:
  host: 127.0.0.1
  port: 3306
  user: root
  password: root
  name: groupbuy
redis:
  cluster_nodes: 127.0.0.1:7000,127.0.0.1:7001
  password: ""
kafka:
  brokers: 127.0.0.1:9092
  topic: group_events
  group_id: groupbuy_gateway
etcd:
  host: 127.0.0.1:2379
  dial_timeout: 5
`

// writeTempConfig 写入临时配置文件并返回路径
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestInitConfig_Valid 测试加载合法配置
func TestInitConfig_Valid(t *testing.T) {
	path := writeTempConfig(t, validYaml)

	err := InitConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, 8080, AppConfig.Server.Port)
	assert.Equal(t, "groupbuy", AppConfig.Database.Name)
	assert.Equal(t, []string{"127.0.0.1:7000", "127.0.0.1:7001"}, AppConfig.Redis.GetRedisClusterNodes())
	assert.Equal(t, []string{"127.0.0.1:9092"}, AppConfig.Kafka.GetKafkaBrokers())
	assert.Equal(t, []string{"127.0.0.1:2379"}, AppConfig.Etcd.GetEtcdEndpoints())
}

// TestInitConfig_FileMissing 测试配置文件不存在
func TestInitConfig_FileMissing(t *testing.T) {
	err := InitConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// TestInitConfig_InvalidYaml 测试YAML语法错误
func TestInitConfig_InvalidYaml(t *testing.T) {
	path := writeTempConfig(t, "server: [broken")

	err := InitConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

// TestConfig_Validate 测试配置完整性校验
func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Database: MysqlConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "groupbuy"},
			Redis:    RedisConfig{ClusterNodes: "127.0.0.1:7000"},
			Kafka:    KafkaConfig{Brokers: "127.0.0.1:9092", Topic: "group_events"},
			Etcd:     EtcdConfig{Host: "127.0.0.1:2379", DialTimeout: 5},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Redis.ClusterNodes = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Kafka.Brokers = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Etcd.DialTimeout = 0
	assert.Error(t, cfg.Validate())
}

// TestConfig_ValidateAppliesKafkaDefaults 测试Kafka主题与消费者组缺省值
func TestConfig_ValidateAppliesKafkaDefaults(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 8080},
		Database: MysqlConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "groupbuy"},
		Redis:    RedisConfig{ClusterNodes: "127.0.0.1:7000"},
		Kafka:    KafkaConfig{Brokers: "127.0.0.1:9092"}, // 未配置主题与消费者组
		Etcd:     EtcdConfig{Host: "127.0.0.1:2379", DialTimeout: 5},
	}

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
	assert.Equal(t, DefaultKafkaGroupID, cfg.Kafka.GroupID)
}
