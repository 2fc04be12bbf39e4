package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %s", s.Store.Driver)
	}
	if s.Refresh.Workers != 20 || s.Refresh.Interval != 12*time.Hour || s.Refresh.UserTimeout != 30*time.Second {
		t.Errorf("Refresh = %+v", s.Refresh)
	}
	if s.Feedback.Threshold != 10 || s.Feedback.Window != 24*time.Hour {
		t.Errorf("Feedback = %+v", s.Feedback)
	}
	if s.Recommend.FusionTopN != 30 || s.Recommend.PopularLimit != 20 {
		t.Errorf("Recommend = %+v", s.Recommend)
	}
	if s.Embedding.Breaker.FailureThreshold == 0 {
		t.Errorf("nested breaker defaults lost: %+v", s.Embedding.Breaker)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "reclearn.yaml", `
store:
  driver: redis
  addr: redis:6379
refresh:
  workers: 4
  user_timeout: 5s
feedback:
  time_zone: Asia/Shanghai
kafka:
  enabled: true
  brokers: ["k1:9092"]
`)
	t.Setenv("RECLEARN_REFRESH__WORKERS", "8")
	t.Setenv("RECLEARN_HTTP__ADDR", ":9090")
	t.Setenv("RECLEARN_KAFKA__BROKERS", "k1:9092, k2:9092")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Store.Driver != DriverRedis || s.Store.Addr != "redis:6379" {
		t.Errorf("Store = %+v", s.Store)
	}
	if s.Refresh.Workers != 8 {
		t.Errorf("env should override file, Workers = %d", s.Refresh.Workers)
	}
	if s.Refresh.UserTimeout != 5*time.Second {
		t.Errorf("UserTimeout = %v", s.Refresh.UserTimeout)
	}
	if s.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %s", s.HTTP.Addr)
	}
	if len(s.Kafka.Brokers) != 2 || s.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v", s.Kafka.Brokers)
	}
	loc, err := s.Feedback.Location()
	if err != nil || loc.String() != "Asia/Shanghai" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown driver", "store:\n  driver: mongo\n", "Driver"},
		{"zero workers", "refresh:\n  workers: 0\n", "Workers"},
		{"openai without key", "embedding:\n  provider: openai\n", "api_key"},
		{"kafka without brokers", "kafka:\n  enabled: true\n", "Brokers"},
		{"bad time zone", "feedback:\n  time_zone: Mars/Olympus\n", "time_zone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
