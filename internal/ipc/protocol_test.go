package ipc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/guanyue91141/Self-Music/internal/cache"
	"github.com/guanyue91141/Self-Music/internal/tasks"
)

func TestEncodeRequest(t *testing.T) {
	req := &Request{
		Cmd:  CmdVolume,
		Data: json.RawMessage(`{"level":0.5}`),
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	// Verify it's valid JSON
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Result is not valid JSON: %v", err)
	}

	if decoded["cmd"] != "volume" {
		t.Errorf("Expected cmd 'volume', got '%v'", decoded["cmd"])
	}
}

func TestDecodeRequestWithData(t *testing.T) {
	data := []byte(`{"cmd":"setSong","data":{"song":{"id":"42","title":"Song","artist":{"name":"A"},"duration":201.5}}}`)

	req, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}

	if req.Cmd != CmdSetSong {
		t.Errorf("Expected cmd 'setSong', got '%s'", req.Cmd)
	}

	var songReq SetSongRequest
	if err := json.Unmarshal(req.Data, &songReq); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}

	if songReq.Song == nil || songReq.Song.ID != "42" || songReq.Song.Artist.Name != "A" || songReq.Song.Duration != 201.5 {
		t.Errorf("Unexpected song %+v", songReq.Song)
	}
}

func TestDecodeRequestInvalid(t *testing.T) {
	data := []byte(`not valid json`)

	_, err := DecodeRequest(data)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestDecodeResponseError(t *testing.T) {
	data := []byte(`{"success":false,"error":"song not in queue"}`)

	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if resp.Success {
		t.Error("Expected success to be false")
	}

	if resp.Error != "song not in queue" {
		t.Errorf("Expected error 'song not in queue', got '%s'", resp.Error)
	}
}

func TestNewSuccessResponse(t *testing.T) {
	resp, err := NewSuccessResponse(StatusResponse{
		State:      "playing",
		Position:   12.5,
		Duration:   180,
		RepeatMode: "all",
	})
	if err != nil {
		t.Fatalf("NewSuccessResponse failed: %v", err)
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}

	// Omitted fields stay off the wire
	for _, key := range []string{`"song"`, `"lyric"`, `"error"`, `"playlist"`} {
		if strings.Contains(string(data), key) {
			t.Errorf("Expected %s omitted in %s", key, data)
		}
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	var status StatusResponse
	if err := json.Unmarshal(decoded.Data, &status); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if status.State != "playing" || status.Position != 12.5 || status.RepeatMode != "all" {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestNewSuccessResponseNilData(t *testing.T) {
	resp, err := NewSuccessResponse(nil)
	if err != nil {
		t.Fatalf("NewSuccessResponse failed: %v", err)
	}

	if !resp.Success {
		t.Error("Expected success to be true")
	}

	if resp.Data != nil {
		t.Error("Expected data to be nil")
	}
}

func TestNewSuccessResponseUnencodable(t *testing.T) {
	if _, err := NewSuccessResponse(make(chan int)); err == nil {
		t.Error("Expected error for unencodable data")
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("something went wrong")

	if resp.Success {
		t.Error("Expected success to be false")
	}

	if resp.Error != "something went wrong" {
		t.Errorf("Expected error 'something went wrong', got '%s'", resp.Error)
	}
}

func TestNewPushMessage(t *testing.T) {
	data, err := NewPushMessage(PushSpectrum, SpectrumResponse{Bands: []int{0, 255}, Position: 1.5})
	if err != nil {
		t.Fatalf("NewPushMessage failed: %v", err)
	}

	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Push message is not valid JSON: %v", err)
	}
	if msg.Type != "spectrum" {
		t.Errorf("Expected type spectrum, got %s", msg.Type)
	}

	// Bands are numbers, not base64
	if !strings.Contains(string(msg.Data), `"bands":[0,255]`) {
		t.Errorf("Unexpected bands encoding %s", msg.Data)
	}
}

func TestCacheStatsFlattened(t *testing.T) {
	data, err := json.Marshal(CacheStatsResponse{
		Stats: cache.Stats{Songs: 2, AudioBytes: 10},
		Tasks: &tasks.Stats{Dropped: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["songs"] != float64(2) || decoded["audioBytes"] != float64(10) {
		t.Errorf("Expected cache stats at top level, got %s", data)
	}
	if _, ok := decoded["tasks"].(map[string]interface{}); !ok {
		t.Errorf("Expected nested task stats, got %s", data)
	}
}
