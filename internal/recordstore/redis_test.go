package recordstore

import (
	"encoding/json"
	"testing"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want int64
	}{
		{"int64", int64(42), 42},
		{"int", 7, 7},
		{"unsupported type", "not a number", 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toInt(tt.in); got != tt.want {
				t.Errorf("toInt(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedisEnvelope_RoundTrip(t *testing.T) {
	raw, err := json.Marshal(redisEnvelope{Value: []byte("payload"), Version: 3})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if string(env.Value) != "payload" || env.Version != 3 {
		t.Errorf("unexpected envelope fields: %+v", env)
	}
}
