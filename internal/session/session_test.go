package session

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalShapeV2UsesDataField(t *testing.T) {
	raw := []byte(`{"action":"configure","data":{"paper_trade":false}}`)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	var payload configurePayload
	if err := unmarshalShape(raw, env.Data, &payload); err != nil {
		t.Fatalf("unmarshalShape: %v", err)
	}
	if payload.PaperTrade == nil || *payload.PaperTrade != false {
		t.Fatalf("expected paper_trade=false, got %+v", payload)
	}
}

func TestUnmarshalShapeV1UsesTopLevel(t *testing.T) {
	raw := []byte(`{"action":"configure","paper_trade":true,"protocol_version":1}`)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	var payload configurePayload
	if err := unmarshalShape(raw, env.Data, &payload); err != nil {
		t.Fatalf("unmarshalShape: %v", err)
	}
	if payload.PaperTrade == nil || *payload.PaperTrade != true {
		t.Fatalf("expected paper_trade=true, got %+v", payload)
	}
	if payload.ProtocolVersion != 1 {
		t.Fatalf("expected protocol_version=1, got %d", payload.ProtocolVersion)
	}
}

func TestUnmarshalOrderShapeV1RequiresSymbol(t *testing.T) {
	raw := []byte(`{"action":"configure","paper_trade":true}`)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	var payload orderPayload
	if err := unmarshalOrderShape(raw, env.Data, &payload); err == nil {
		t.Fatalf("expected error for data-less message with no symbol field")
	}
}

func TestUnmarshalOrderShapeV1FallbackWithSymbol(t *testing.T) {
	raw := []byte(`{"action":"order","symbol":"R","qty":5,"side":"BUY","type":"MARKET"}`)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	var payload orderPayload
	if err := unmarshalOrderShape(raw, env.Data, &payload); err != nil {
		t.Fatalf("unmarshalOrderShape: %v", err)
	}
	if payload.Symbol != "R" || payload.Qty != 5 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWrapProducesActionDataEnvelope(t *testing.T) {
	s := &Session{}
	out := s.wrap("tick", map[string]string{"symbol": "X"})
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["action"] != "tick" {
		t.Fatalf("expected action=tick, got %v", decoded["action"])
	}
}
